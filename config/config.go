package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

type Config struct {
	Port            string
	LogLevel        string
	HistoryBackend  string
	WelcomeText     string
	MaxMessageSize  int64
	SendBuffer      int
	ShutdownTimeout time.Duration
}

func Default() Config {
	return Config{
		Port:            "8080",
		LogLevel:        "info",
		HistoryBackend:  HistoryMemory,
		WelcomeText:     "Welcome to the chat server",
		MaxMessageSize:  4096,
		SendBuffer:      256,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads an optional .env file and then the environment. Values that do
// not parse keep their defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv()
}

func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	switch v := os.Getenv("HISTORY_BACKEND"); v {
	case HistoryMemory, HistorySQLite:
		cfg.HistoryBackend = v
	case "":
	default:
		slog.Warn("unknown history backend, using memory", "backend", v)
	}
	if v := os.Getenv("WELCOME_TEXT"); v != "" {
		cfg.WelcomeText = v
	}
	if v, err := strconv.ParseInt(os.Getenv("MAX_MESSAGE_SIZE"), 10, 64); err == nil && v > 0 {
		cfg.MaxMessageSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("SEND_BUFFER")); err == nil && v > 0 {
		cfg.SendBuffer = v
	}
	if v, err := time.ParseDuration(os.Getenv("SHUTDOWN_TIMEOUT")); err == nil && v > 0 {
		cfg.ShutdownTimeout = v
	}
	return cfg
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
