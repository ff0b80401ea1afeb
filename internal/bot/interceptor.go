package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/park285/limbot/internal/chess"
	"github.com/park285/limbot/internal/gamelog"
	"github.com/park285/limbot/internal/metrics"
	"github.com/park285/limbot/internal/msgcat"
	"go.uber.org/zap"
)

var ErrColorAlreadySet = errors.New("bot color already set")

type State int32

const (
	Idle State = iota
	Searching
	Releasing
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Releasing:
		return "releasing"
	default:
		return "idle"
	}
}

// Transport is the live game socket. Only the interceptor writes to it.
type Transport interface {
	Send(ctx context.Context, v any) error
	Alive() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

type Config struct {
	// GameID is the eight character game id recorded with the outcome.
	GameID  string
	Mode    chess.PositionMode
	Policy  chess.Policy
	MultiPV int
}

// Deps are the interceptor's collaborators. Engine and Transport are
// required; everything else has a working default.
type Deps struct {
	Engine    chess.CommandSink
	Transport Transport
	Scheduler Scheduler
	Store     gamelog.Store
	Catalog   *msgcat.Catalog
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Rand      *rand.Rand
	Now       func() time.Time
}

// Interceptor plays one game. All game state is owned by the goroutine
// running Run; the exported Handle and Begin methods only enqueue work.
// A finished game is terminal: the next game needs a new Interceptor.
type Interceptor struct {
	id     string
	cfg    Config
	deps   Deps
	logger *zap.Logger

	tracker *chess.Tracker
	session *chess.Session

	events   chan func()
	done     chan struct{}
	doneOnce sync.Once
	state    atomic.Int32

	// owned by the loop
	color         chess.Color
	ended         bool
	pending       *release
	searchStarted time.Time

	outcomeM sync.Mutex
	outcome  *gamelog.Entry
}

// release is a selected move waiting for its scheduled send.
type release struct {
	move       string
	evalCP     int
	target     float64
	delay      time.Duration
	moveNumber int
}

// New builds an interceptor. The engine is not touched until Begin.
func New(cfg Config, deps Deps) (*Interceptor, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if cfg.MultiPV <= 0 {
		cfg.MultiPV = 8
	}
	if deps.Scheduler == nil {
		deps.Scheduler = timerScheduler{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	logger := deps.Logger.With(zap.String("game_id", cfg.GameID), zap.String("interceptor", id[:8]))
	i := &Interceptor{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		tracker: chess.NewTracker(cfg.Mode, logger),
		session: chess.NewSession(deps.Engine, logger),
		events:  make(chan func(), 256),
		done:    make(chan struct{}),
	}
	return i, nil
}

func (i *Interceptor) ID() string { return i.id }

func (i *Interceptor) State() State { return State(i.state.Load()) }

func (i *Interceptor) setState(s State) { i.state.Store(int32(s)) }

// Done is closed when Run returns.
func (i *Interceptor) Done() <-chan struct{} { return i.done }

// Outcome returns the recorded result once the game has ended.
func (i *Interceptor) Outcome() (gamelog.Entry, bool) {
	i.outcomeM.Lock()
	defer i.outcomeM.Unlock()
	if i.outcome == nil {
		return gamelog.Entry{}, false
	}
	return *i.outcome, true
}

// Begin sets the color this bot plays and waits for the loop to apply it.
// A bot playing White starts searching right away.
func (i *Interceptor) Begin(ctx context.Context, color chess.Color) error {
	errCh := make(chan error, 1)
	if !i.post(func() { errCh <- i.onBegin(color) }) {
		return errors.New("interceptor stopped")
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-i.done:
		return errors.New("interceptor stopped")
	}
}

// HandleMessage queues one raw inbound transport frame.
func (i *Interceptor) HandleMessage(raw []byte) {
	b := append([]byte(nil), raw...)
	i.post(func() { i.onTransport(b) })
}

// HandleEngineLine queues one line of engine output.
func (i *Interceptor) HandleEngineLine(line string) {
	i.post(func() { i.onEngineLine(line) })
}

func (i *Interceptor) post(f func()) bool {
	select {
	case <-i.done:
		return false
	default:
	}
	select {
	case i.events <- f:
		return true
	case <-i.done:
		return false
	}
}

// Run processes queued work until the game has ended and nothing is in
// flight, or ctx is cancelled.
func (i *Interceptor) Run(ctx context.Context) error {
	defer i.doneOnce.Do(func() { close(i.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-i.events:
			f()
			if i.finished() {
				i.logger.Info("interceptor_stop", zap.Int("ply", i.tracker.Ply()))
				return nil
			}
		}
	}
}

func (i *Interceptor) finished() bool {
	return i.ended && i.State() == Idle
}

func (i *Interceptor) statusLine(r *release) string {
	sign := float64(i.color.Sign())
	l := msgcat.MoveLine{
		Number:  r.moveNumber,
		Move:    r.move,
		Eval:    float64(r.evalCP) * sign / 100,
		Target:  r.target * sign / 100,
		DelayMS: r.delay.Milliseconds(),
		Black:   i.color == chess.Black,
	}
	if i.deps.Catalog != nil {
		if s, err := i.deps.Catalog.Move(l); err == nil {
			return s
		}
	}
	dots := "."
	if l.Black {
		dots = "..."
	}
	return fmt.Sprintf("%d%s %s: %.2f (target %.2f) (%d ms)", l.Number, dots, l.Move, l.Eval, l.Target, l.DelayMS)
}

func (i *Interceptor) render(key string, data map[string]any) string {
	if i.deps.Catalog == nil {
		return ""
	}
	s, err := i.deps.Catalog.Render(key, data)
	if err != nil {
		i.logger.Debug("render_failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(s)
}
