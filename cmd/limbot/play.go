package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/limbot/internal/bot"
	"github.com/park285/limbot/internal/chess"
	"github.com/park285/limbot/internal/chess/uci"
	"github.com/park285/limbot/internal/config"
	"github.com/park285/limbot/internal/gamelog"
	"github.com/park285/limbot/internal/lichess"
	"github.com/park285/limbot/internal/metrics"
	"github.com/park285/limbot/internal/msgcat"
	"github.com/park285/limbot/internal/obslog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Plays the configured game until it ends",
	Args:  cobra.NoArgs,
	RunE:  runPlay,
}

func runPlay(cmd *cobra.Command, _ []string) error {
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequirePlay(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var met *metrics.Metrics
	if cfg.MetricsAddr != "" {
		met = metrics.New()
	}

	client := lichess.NewClient(cfg.LichessBaseURL, lichess.WithHeaderProvider(cfg.HeaderProvider()))
	color := cfg.BotColor
	if color == chess.NoColor {
		detectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		color, err = client.DetectColor(detectCtx, cfg.LichessGame)
		cancel()
		if err != nil {
			return err
		}
	}
	gameID := lichess.GameID(cfg.LichessGame)

	engine, err := uci.StartProcess(ctx, cfg.StockfishPath, uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	sock := lichess.NewSocket(cfg.LichessSocketURL, 5, time.Second, logger)
	sock.SetHeaderProvider(cfg.HeaderProvider())
	sock.OnStateChange(func(s lichess.State) {
		logger.Info("socket_state", zap.String("state", s.String()))
	})

	icpt, err := bot.New(bot.Config{
		GameID:  gameID,
		Mode:    cfg.PositionMode,
		Policy:  cfg.Policy,
		MultiPV: cfg.EngineMultiPV,
	}, bot.Deps{
		Engine:    engine,
		Transport: sock,
		Store:     store,
		Catalog:   catalog,
		Metrics:   met,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	sock.OnMessage(icpt.HandleMessage)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return icpt.Run(gctx) })
	g.Go(func() error { return pumpEngine(gctx, engine.Lines(), icpt) })
	if met != nil {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, met, icpt.Done(), logger) })
	}

	connect := func(ctx context.Context) error { return connectSocket(ctx, sock, logger) }
	if err := startGame(gctx, color, icpt.Begin, connect); err != nil {
		return err
	}

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_ = sock.Close(closeCtx)
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if _, ok := icpt.Outcome(); ok && cfg.NewGameOption == config.NewGameSeek {
		return seekNewGame(ctx, client, catalog, cfg.NewGameDelay, gameID, logger)
	}
	return nil
}

// startGame sets the bot's color and connects the socket. Black must know
// its color before White's first move can arrive; White searches as soon as
// its color is set, so the socket has to be up first to take the reply.
func startGame(ctx context.Context, color chess.Color, begin func(context.Context, chess.Color) error, connect func(context.Context) error) error {
	if color == chess.White {
		if err := connect(ctx); err != nil {
			return err
		}
		return begin(ctx, color)
	}
	if err := begin(ctx, color); err != nil {
		return err
	}
	return connect(ctx)
}

// connectSocket dials the game socket. A failed first dial is retried by
// the socket's reconnect loop, so it is only logged.
func connectSocket(ctx context.Context, sock *lichess.Socket, logger *zap.Logger) error {
	if err := sock.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("socket_connect_failed", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (gamelog.Store, error) {
	store, err := gamelog.Open(ctx, cfg.RedisURL, cfg.DatabaseURL)
	if errors.Is(err, gamelog.ErrNotConfigured) {
		logger.Info("gamelog_memory", zap.String("reason", "no REDIS_URL or DATABASE_URL"))
		return gamelog.NewMemoryStore(), nil
	}
	return store, err
}

// pumpEngine forwards engine output until the game is over.
func pumpEngine(ctx context.Context, lines <-chan string, icpt *bot.Interceptor) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-icpt.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errors.New("engine exited")
			}
			icpt.HandleEngineLine(line)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, met *metrics.Metrics, done <-chan struct{}, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics_listen", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	case <-done:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func seekNewGame(ctx context.Context, client *lichess.Client, catalog *msgcat.Catalog, delay time.Duration, gameID string, logger *zap.Logger) error {
	line, _ := catalog.Render("game.next", map[string]any{"Seconds": delay.Seconds()})
	logger.Info("new_game_wait", zap.Duration("delay", delay), zap.String("line", line))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}

	seekCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.SeekRematch(seekCtx, gameID); err != nil {
		return err
	}
	logger.Info("new_game_seek", zap.String("like", gameID))
	return nil
}
