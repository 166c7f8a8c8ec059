package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreSurrealDB = "surrealdb"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// MaxConcurrency is the upper bound on concurrent generation calls per run.
const MaxConcurrency = 10

// Config holds all configuration values.
type Config struct {
	// Store selection
	StoreDriver string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// SQL stores
	SQLitePath  string
	PostgresDSN string

	// LLM
	LLMProvider     string
	LLMModel        string
	LLMMaxTokens    int
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaHost      string
	AWSRegion       string

	// Generation engine
	MaxRetries       int
	CallDelay        time.Duration
	CallTimeout      time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	Concurrency      int
	BatchSize        int
	ReplayEvents     int
	SubscriberBuffer int

	// Server / client
	ServerPort string
	ServerURL  string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		StoreDriver: strings.ToLower(getEnv("SCENARIOGEN_STORE", StoreSurrealDB)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "maac"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "scenarios"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		SQLitePath:  getEnv("SCENARIOGEN_SQLITE_PATH", defaultSQLitePath()),
		PostgresDSN: getEnv("SCENARIOGEN_POSTGRES_DSN", ""),

		LLMProvider:     strings.ToLower(getEnv("SCENARIOGEN_LLM_PROVIDER", ProviderAnthropic)),
		LLMModel:        getEnv("SCENARIOGEN_LLM_MODEL", "claude-sonnet-4-20250514"),
		LLMMaxTokens:    getEnvInt("SCENARIOGEN_LLM_MAX_TOKENS", 4096),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		MaxRetries:       getEnvInt("SCENARIOGEN_MAX_RETRIES", 3),
		CallDelay:        getEnvDuration("SCENARIOGEN_CALL_DELAY", 1500*time.Millisecond),
		CallTimeout:      getEnvDuration("SCENARIOGEN_CALL_TIMEOUT", 120*time.Second),
		BackoffInitial:   getEnvDuration("SCENARIOGEN_BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:       getEnvDuration("SCENARIOGEN_BACKOFF_MAX", 30*time.Second),
		Concurrency:      getEnvInt("SCENARIOGEN_CONCURRENCY", 1),
		BatchSize:        getEnvInt("SCENARIOGEN_BATCH_SIZE", 50),
		ReplayEvents:     getEnvInt("SCENARIOGEN_REPLAY_EVENTS", 50),
		SubscriberBuffer: getEnvInt("SCENARIOGEN_SUBSCRIBER_BUFFER", 64),

		ServerPort: getEnv("SCENARIOGEN_SERVER_PORT", "8484"),
		ServerURL:  getEnv("SCENARIOGEN_SERVER_URL", "http://localhost:8484"),

		LogFile:  getEnv("SCENARIOGEN_LOG_FILE", "/tmp/scenariogen.log"),
		LogLevel: parseLogLevel(getEnv("SCENARIOGEN_LOG_LEVEL", "INFO")),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreSurrealDB, StoreSQLite:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SCENARIOGEN_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver: %s", c.StoreDriver))
	}

	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider))
	}

	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency must be between 1 and %d, got %d", MaxConcurrency, c.Concurrency))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.CallDelay < 0 || c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call delay must be >= 0 and call timeout > 0"))
	}

	return errors.Join(errs...)
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scenarios.db"
	}
	return filepath.Join(home, ".scenariogen", "scenarios.db")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go durations ("1.5s") or plain milliseconds ("1500").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
