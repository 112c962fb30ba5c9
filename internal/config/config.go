package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL           string
	ReportingCurrency     string
	StoreTimeout          time.Duration
	InterestCostPolicy    string
	SnapshotInterval      time.Duration
	SnapshotOwners        []string
	SnapshotListLimit     int
	QuoteMaxAge           time.Duration
	QuoteWorkerInterval   time.Duration
	QuoteWorkerEnabled    bool
	ExportDir             string
	GoogleSheetsID        string
	GoogleCredentialsJSON string
	LogLevel              slog.Level
	LogFormat             string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL:           envOrDefaultWarn("DATABASE_URL", ""),
		ReportingCurrency:     strings.ToUpper(envOrDefault("REPORTING_CURRENCY", "TWD")),
		StoreTimeout:          envOrDefaultDuration("STORE_TIMEOUT", 10*time.Second),
		InterestCostPolicy:    envOrDefault("INTEREST_COST_POLICY", "zero"),
		SnapshotInterval:      envOrDefaultDuration("SNAPSHOT_INTERVAL", 24*time.Hour),
		SnapshotOwners:        envList("SNAPSHOT_OWNERS"),
		SnapshotListLimit:     envOrDefaultInt("SNAPSHOT_LIST_LIMIT", 30),
		QuoteMaxAge:           envOrDefaultDuration("QUOTE_MAX_AGE", 48*time.Hour),
		QuoteWorkerInterval:   envOrDefaultDuration("QUOTE_WORKER_INTERVAL", 1*time.Hour),
		QuoteWorkerEnabled:    envOrDefaultBool("QUOTE_WORKER_ENABLED", true),
		ExportDir:             envOrDefault("EXPORT_DIR", "exports"),
		GoogleSheetsID:        envOrDefault("GOOGLE_SHEETS_ID", ""),
		GoogleCredentialsJSON: envOrDefault("GOOGLE_CREDENTIALS_JSON", ""),
		LogLevel:              envOrDefaultLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat:             strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
	}
}

// SheetsEnabled reports whether both Google Sheets settings are present.
func (c Config) SheetsEnabled() bool {
	return c.GoogleSheetsID != "" && c.GoogleCredentialsJSON != ""
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultLevel(key string, defaultVal slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err != nil {
			slog.Warn("invalid log level env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return l
	}
	return defaultVal
}

// envList splits a comma separated variable, dropping blanks and duplicates.
func envList(key string) []string {
	parts := lo.Map(strings.Split(os.Getenv(key), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}
