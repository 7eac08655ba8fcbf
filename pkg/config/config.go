// Package config loads tool configuration from the environment. Flags
// override everything here; the environment only supplies defaults so
// operators do not repeat paths on every invocation.
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Config holds the ambient settings shared by every subcommand.
type Config struct {
	// Root is the project directory inputs are resolved against.
	Root string
	// OutDir receives sealed runs and manifests.
	OutDir string
	// KeysFile is a YAML keyring for signing and verification.
	KeysFile string
	// SigningKey selects the default key id out of the keyring.
	SigningKey string
	// LogPath is the transparency log location.
	LogPath string
	// LedgerPath is the authority ledger location.
	LedgerPath string
	// DatabaseDSN, when set, backs the ledgers with SQLite instead of
	// NDJSON files.
	DatabaseDSN string
	// Threshold is the default multisig quorum for verification.
	Threshold int
	// LogLevel controls diagnostic verbosity.
	LogLevel string
}

// Load reads configuration from SIGILLUM_* environment variables,
// falling back to working-directory defaults.
func Load() *Config {
	cfg := &Config{
		Root:        getenv("SIGILLUM_ROOT", "."),
		OutDir:      getenv("SIGILLUM_OUT_DIR", "sealed"),
		KeysFile:    os.Getenv("SIGILLUM_KEYS_FILE"),
		SigningKey:  os.Getenv("SIGILLUM_SIGNING_KEY"),
		LogPath:     getenv("SIGILLUM_LOG_PATH", "transparency_log.ndjson"),
		LedgerPath:  getenv("SIGILLUM_LEDGER_PATH", "authority_ledger.ndjson"),
		DatabaseDSN: os.Getenv("SIGILLUM_DB"),
		LogLevel:    getenv("SIGILLUM_LOG_LEVEL", "info"),
	}
	if n, err := strconv.Atoi(os.Getenv("SIGILLUM_THRESHOLD")); err == nil && n > 0 {
		cfg.Threshold = n
	}
	return cfg
}

// Logger builds the process logger at the configured level.
func (c *Config) Logger(w *os.File) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug", "DEBUG":
		level = slog.LevelDebug
	case "warn", "WARN":
		level = slog.LevelWarn
	case "error", "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
