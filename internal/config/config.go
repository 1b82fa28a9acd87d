package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "paceline.db"
	defaultGrace        = 5 * time.Second
	defaultPollInterval = 2 * time.Second

	envListenAddr   = "PACELINE_LISTEN_ADDR"
	envDBPath       = "PACELINE_DB_PATH"
	envLogLevel     = "PACELINE_LOG_LEVEL"
	envCIMode       = "PACELINE_CI_MODE"
	envGraceMS      = "PACELINE_GRACE_MS"
	envPollInterval = "PACELINE_POLL_INTERVAL_S"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// CIMode caps run concurrency for shared CI hosts. It is detected from
	// the standard CI variable unless PACELINE_CI_MODE overrides it.
	CIMode bool

	// Grace is how long workers get to respond to cancellation after a run
	// deadline before being abandoned.
	Grace time.Duration

	// PollInterval is the throttle controller's resource sampling period.
	PollInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		CIMode:       detectCI(),
		Grace:        defaultGrace,
		PollInterval: defaultPollInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envCIMode); v != "" {
		cfg.CIMode = parseBool(v)
	}
	if ms, err := strconv.Atoi(os.Getenv(envGraceMS)); err == nil && ms > 0 {
		cfg.Grace = time.Duration(ms) * time.Millisecond
	}
	if s, err := strconv.Atoi(os.Getenv(envPollInterval)); err == nil && s > 0 {
		cfg.PollInterval = time.Duration(s) * time.Second
	}

	return cfg
}

// detectCI follows the convention shared by most CI providers of exporting CI=true.
func detectCI() bool {
	return parseBool(os.Getenv("CI"))
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
