package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/limbot/internal/chess"
	yaml "gopkg.in/yaml.v3"
)

const (
	NewGameNone = "none"
	NewGameSeek = "seek"
)

type AppConfig struct {
	StockfishPath string

	LichessBaseURL   string
	LichessSocketURL string
	LichessSession   string
	LichessGame      string

	BotColor     chess.Color
	PositionMode chess.PositionMode

	EngineMultiPV int
	EngineThreads int
	EngineHashMB  int

	PolicyFile string
	Policy     chess.Policy

	MessagesDir string

	RedisURL    string
	DatabaseURL string

	NewGameOption string
	NewGameDelay  time.Duration

	MetricsAddr string
}

// Load reads the environment. Values that are present must parse; values
// only some commands need are checked by RequirePlay.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		LichessBaseURL: "https://lichess.org",
		PositionMode:   chess.MoveListMode,
		EngineMultiPV:  8,
		EngineThreads:  1,
		EngineHashMB:   16,
		NewGameOption:  NewGameNone,
		NewGameDelay:   5 * time.Second,
	}

	cfg.StockfishPath = env("STOCKFISH_PATH")
	if v := env("LICHESS_BASE_URL"); v != "" {
		cfg.LichessBaseURL = strings.TrimRight(v, "/")
	}
	cfg.LichessSocketURL = env("LICHESS_SOCKET_URL")
	cfg.LichessSession = env("LICHESS_SESSION")
	cfg.LichessGame = env("LICHESS_GAME")

	if v := env("BOT_COLOR"); v != "" {
		c, err := chess.ParseColor(v)
		if err != nil {
			return nil, fmt.Errorf("BOT_COLOR: %w", err)
		}
		cfg.BotColor = c
	}
	if v := env("POSITION_MODE"); v != "" {
		m, err := chess.ParsePositionMode(v)
		if err != nil {
			return nil, fmt.Errorf("POSITION_MODE: %w", err)
		}
		cfg.PositionMode = m
	}

	var err error
	if cfg.EngineMultiPV, err = positiveInt("ENGINE_MULTIPV", cfg.EngineMultiPV); err != nil {
		return nil, err
	}
	if cfg.EngineThreads, err = positiveInt("ENGINE_THREADS", cfg.EngineThreads); err != nil {
		return nil, err
	}
	if cfg.EngineHashMB, err = positiveInt("ENGINE_HASH_MB", cfg.EngineHashMB); err != nil {
		return nil, err
	}

	cfg.PolicyFile = env("POLICY_FILE")
	cfg.Policy = chess.DefaultPolicy()
	if cfg.PolicyFile != "" {
		p, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = p
	}
	cfg.MessagesDir = env("MESSAGES_DIR")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")

	if v := strings.ToLower(env("NEW_GAME_OPTION")); v != "" {
		if v != NewGameNone && v != NewGameSeek {
			return nil, fmt.Errorf("NEW_GAME_OPTION must be %q or %q: %q", NewGameNone, NewGameSeek, v)
		}
		cfg.NewGameOption = v
	}
	if v := env("NEW_GAME_DELAY"); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			return nil, fmt.Errorf("NEW_GAME_DELAY: %w", err)
		}
		cfg.NewGameDelay = d
	}

	cfg.MetricsAddr = env("METRICS_ADDR")
	return cfg, nil
}

// RequirePlay checks the settings needed to play a game.
func (c *AppConfig) RequirePlay() error {
	if c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	if c.LichessSocketURL == "" {
		return errors.New("LICHESS_SOCKET_URL is required")
	}
	if c.LichessGame == "" {
		return errors.New("LICHESS_GAME is required")
	}
	return nil
}

// HeaderProvider returns the session cookie header when a session is set.
func (c *AppConfig) HeaderProvider() func() map[string]string {
	return func() map[string]string {
		h := map[string]string{}
		if c.LichessSession != "" {
			h["Cookie"] = "lila2=" + c.LichessSession
		}
		return h
	}
}

// LoadPolicy reads a YAML policy file over the default policy. Unknown
// keys are rejected.
func LoadPolicy(path string) (chess.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return chess.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := chess.DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return chess.Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return chess.Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func positiveInt(k string, def int) (int, error) {
	v := env(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %q", k, v)
	}
	return n, nil
}

// parseDelay accepts a Go duration or a bare number of milliseconds.
func parseDelay(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative delay: %d", n)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay: %s", v)
	}
	return d, nil
}
