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
	defaultListenAddr         = ":8080"
	defaultMaxOutputLength    = 100000
	defaultMaxExecutionTime   = 2 * time.Second
	defaultMaxTemplateLength  = 10000
	defaultMaxDataModelLength = 10000

	envListenAddr         = "ANVIL_LISTEN_ADDR"
	envLogLevel           = "ANVIL_LOG_LEVEL"
	envMaxOutputLength    = "ANVIL_MAX_OUTPUT_LENGTH"
	envMaxThreads         = "ANVIL_MAX_THREADS"
	envMaxQueueLength     = "ANVIL_MAX_QUEUE_LENGTH"
	envMaxExecutionTime   = "ANVIL_MAX_EXECUTION_TIME"
	envMaxTemplateLength  = "ANVIL_MAX_TEMPLATE_LENGTH"
	envMaxDataModelLength = "ANVIL_MAX_DATA_MODEL_LENGTH"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	// MaxOutputLength is the output budget of a single render, in characters.
	MaxOutputLength int
	// MaxThreads is the number of workers; zero lets the engine choose.
	MaxThreads int
	// MaxQueueLength is the admission queue length; zero derives it from
	// MaxExecutionTime.
	MaxQueueLength   int
	MaxExecutionTime time.Duration

	MaxTemplateLength  int
	MaxDataModelLength int
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are ignored in favour of the defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:         defaultListenAddr,
		LogLevel:           slog.LevelInfo,
		MaxOutputLength:    defaultMaxOutputLength,
		MaxExecutionTime:   defaultMaxExecutionTime,
		MaxTemplateLength:  defaultMaxTemplateLength,
		MaxDataModelLength: defaultMaxDataModelLength,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.MaxOutputLength = positiveInt(envMaxOutputLength, cfg.MaxOutputLength)
	cfg.MaxThreads = positiveInt(envMaxThreads, cfg.MaxThreads)
	cfg.MaxQueueLength = positiveInt(envMaxQueueLength, cfg.MaxQueueLength)
	cfg.MaxExecutionTime = duration(envMaxExecutionTime, cfg.MaxExecutionTime)
	cfg.MaxTemplateLength = positiveInt(envMaxTemplateLength, cfg.MaxTemplateLength)
	cfg.MaxDataModelLength = positiveInt(envMaxDataModelLength, cfg.MaxDataModelLength)

	return cfg
}

func positiveInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// duration accepts Go durations ("1500ms", "2s") and bare milliseconds.
func duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		if ms <= 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
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
