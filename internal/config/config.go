package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full runtime configuration for the study engine daemon.
// Values come from the environment; every field has a usable default so the
// engine can start on a fresh device with no .env file at all.
type Config struct {
	Environment string
	Port        string
	LogLevel    slog.Level

	Store    StoreConfig
	Backend  BackendConfig
	Governor GovernorConfig
	Prefetch PrefetchConfig
	Sync     SyncConfig
	Worker   WorkerConfig
}

// StoreConfig configures the embedded database.
type StoreConfig struct {
	// DataDir is where the database file lives. Created if missing.
	DataDir string
	// DatabaseFile is the file name inside DataDir.
	DatabaseFile string
	// BusyTimeout is handed to SQLite for lock contention.
	BusyTimeout time.Duration
	// MaxInitAttempts bounds initialization retries before the store
	// declares itself permanently failed.
	MaxInitAttempts int
}

// BackendConfig describes the remote content backend.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	// SigningKey is the application-level key for sync queue signatures.
	SigningKey string
}

// GovernorConfig tunes the outbound request gatekeeper.
type GovernorConfig struct {
	// DefaultCooldown applies to endpoints without an explicit entry.
	DefaultCooldown time.Duration
	// Cooldowns maps endpoint name to its cooldown window, parsed from
	// "endpoint=duration" pairs separated by commas.
	Cooldowns map[string]time.Duration
	// SoftBudget is the per-session request count that triggers a warning.
	SoftBudget int
	// HardBudget is the per-session cap after which requests are rejected.
	HardBudget int
}

// PrefetchConfig tunes background content fetching.
type PrefetchConfig struct {
	ChunkSize  int
	ChunkDelay time.Duration
	// Staleness is how long a prefetched entry suppresses refetching.
	Staleness time.Duration
}

// SyncConfig tunes the offline result replay loop.
type SyncConfig struct {
	Interval   time.Duration
	BatchLimit int
}

// WorkerConfig tunes the background task dispatcher.
type WorkerConfig struct {
	QueueSize   int
	CallTimeout time.Duration
}

// LoadConfig reads the environment and assembles a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8090"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		Store: StoreConfig{
			DataDir:         getEnv("STORE_DATA_DIR", defaultDataDir()),
			DatabaseFile:    getEnv("STORE_DATABASE_FILE", "study-engine.db"),
			BusyTimeout:     getEnvDuration("STORE_BUSY_TIMEOUT", 5*time.Second),
			MaxInitAttempts: getEnvInt("STORE_MAX_INIT_ATTEMPTS", 3),
		},
		Backend: BackendConfig{
			BaseURL:    getEnv("BACKEND_BASE_URL", "https://api.harvi.app"),
			Timeout:    getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),
			SigningKey: getEnv("SYNC_SIGNING_KEY", defaultSigningKey),
		},
		Governor: GovernorConfig{
			DefaultCooldown: getEnvDuration("GOVERNOR_DEFAULT_COOLDOWN", 30*time.Second),
			Cooldowns:       parseCooldowns(getEnv("GOVERNOR_COOLDOWNS", "")),
			SoftBudget:      getEnvInt("GOVERNOR_SOFT_BUDGET", 150),
			HardBudget:      getEnvInt("GOVERNOR_HARD_BUDGET", 300),
		},
		Prefetch: PrefetchConfig{
			ChunkSize:  getEnvInt("PREFETCH_CHUNK_SIZE", 5),
			ChunkDelay: getEnvDuration("PREFETCH_CHUNK_DELAY", 400*time.Millisecond),
			Staleness:  getEnvDuration("PREFETCH_STALENESS", 6*time.Hour),
		},
		Sync: SyncConfig{
			Interval:   getEnvDuration("SYNC_INTERVAL", 2*time.Minute),
			BatchLimit: getEnvInt("SYNC_BATCH_LIMIT", 50),
		},
		Worker: WorkerConfig{
			QueueSize:   getEnvInt("WORKER_QUEUE_SIZE", 64),
			CallTimeout: getEnvDuration("WORKER_CALL_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// defaultSigningKey is the application-level key used when no override is
// configured. It authenticates locally queued payloads against casual
// tampering; it is not a secrecy boundary.
const defaultSigningKey = "harvi-study-engine-sync-v1"

func (c *Config) validate() error {
	if c.Store.MaxInitAttempts < 1 {
		return fmt.Errorf("STORE_MAX_INIT_ATTEMPTS must be at least 1, got %d", c.Store.MaxInitAttempts)
	}
	if c.Governor.HardBudget < c.Governor.SoftBudget {
		return fmt.Errorf("GOVERNOR_HARD_BUDGET (%d) must not be below GOVERNOR_SOFT_BUDGET (%d)",
			c.Governor.HardBudget, c.Governor.SoftBudget)
	}
	if c.Prefetch.ChunkSize < 1 {
		return fmt.Errorf("PREFETCH_CHUNK_SIZE must be at least 1, got %d", c.Prefetch.ChunkSize)
	}
	if c.Backend.SigningKey == "" {
		return fmt.Errorf("SYNC_SIGNING_KEY must not be empty")
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "harvi-study-engine"
	}
	return "./data"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseCooldowns parses "hierarchy=30s,lectures=45s" style overrides.
// Malformed pairs are skipped.
func parseCooldowns(raw string) map[string]time.Duration {
	out := make(map[string]time.Duration)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		d, err := time.ParseDuration(parts[1])
		if err != nil || d < 0 {
			continue
		}
		out[parts[0]] = d
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
