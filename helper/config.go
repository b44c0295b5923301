package helper

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPoolSize = 5
	MinPoolSize     = 1
	MaxPoolSize     = 20

	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultEmbeddingDim   = 384

	// MaxMillis bounds every *_MS setting to one day.
	MaxMillis = 24 * 60 * 60 * 1000
)

// ServerConfiguration holds every setting the service reads at startup.
// It is validated once and never changes afterwards.
type ServerConfiguration struct {
	Database           *DatabaseConfiguration
	PoolSize           int
	ToolTimeouts       map[string]time.Duration
	LogLevel           slog.Level
	Role               string
	SlowQueryThreshold time.Duration
	ShutdownTimeout    time.Duration
	EmbeddingModel     string
	EmbeddingDim       int
	AuditEnabled       bool
}

// NewServerConfiguration reads and validates the environment. Any invalid
// value fails with an error naming the key. The agent role is kept raw, the
// caller resolves it.
func NewServerConfiguration() (*ServerConfiguration, error) {
	_ = godotenv.Load()

	dbConfig, err := NewDatabaseConfiguration()
	if err != nil {
		return nil, NewError("database configuration", err)
	}

	config := &ServerConfiguration{
		Database:       dbConfig,
		Role:           os.Getenv("KB_AGENT_ROLE"),
		EmbeddingModel: DefaultEmbeddingModel,
	}

	config.PoolSize, err = envInt("DB_POOL_SIZE", DefaultPoolSize)
	if err != nil {
		return nil, err
	}
	if config.PoolSize < MinPoolSize || config.PoolSize > MaxPoolSize {
		return nil, fmt.Errorf("DB_POOL_SIZE must be between %d and %d, got %d", MinPoolSize, MaxPoolSize, config.PoolSize)
	}
	dbConfig.MaxOpenConns = config.PoolSize + 1

	config.LogLevel, err = ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	config.SlowQueryThreshold, err = envMillis("LOG_SLOW_QUERIES_MS", 1000)
	if err != nil {
		return nil, err
	}
	config.ShutdownTimeout, err = envMillis("SHUTDOWN_TIMEOUT_MS", 30000)
	if err != nil {
		return nil, err
	}

	config.ToolTimeouts, err = toolTimeouts(os.Environ())
	if err != nil {
		return nil, err
	}

	if model := strings.TrimSpace(os.Getenv("KB_EMBEDDING_MODEL")); model != "" {
		config.EmbeddingModel = model
	}
	config.EmbeddingDim, err = envInt("KB_EMBEDDING_DIM", DefaultEmbeddingDim)
	if err != nil {
		return nil, err
	}
	if config.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("KB_EMBEDDING_DIM must be positive, got %d", config.EmbeddingDim)
	}

	config.AuditEnabled, err = envBool("KB_AUDIT_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// ParseLogLevel accepts debug, info, warn and error. Empty means info.
func ParseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", value)
	}
}

// TimeoutEnvKey returns the variable overriding the timeout of a tool,
// kb_get_related becomes KB_GET_RELATED_TIMEOUT_MS.
func TimeoutEnvKey(toolName string) string {
	return strings.ToUpper(toolName) + "_TIMEOUT_MS"
}

func toolTimeouts(environ []string) (map[string]time.Duration, error) {
	timeouts := map[string]time.Duration{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "KB_") || !strings.HasSuffix(key, "_TIMEOUT_MS") {
			continue
		}
		timeout, err := parseMillis(key, value)
		if err != nil {
			return nil, err
		}
		tool := strings.ToLower(strings.TrimSuffix(key, "_TIMEOUT_MS"))
		timeouts[tool] = timeout
	}
	return timeouts, nil
}

func envInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return i, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, value)
	}
	return b, nil
}

func envMillis(key string, fallback int) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return time.Duration(fallback) * time.Millisecond, nil
	}
	return parseMillis(key, value)
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := parsePositive(key, value)
	if err != nil {
		return 0, err
	}
	if ms > MaxMillis {
		return 0, fmt.Errorf("%s must not exceed %d, got %d", key, MaxMillis, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parsePositive(key, value string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return i, nil
}
