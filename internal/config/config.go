package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue and broadcast backends.
const (
	ModeMemory = "memory"
	ModeRedis  = "redis"
	ModeLocal  = "local"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	AI        AIConfig
	Broadcast BroadcastConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	ShutdownTimeout       time.Duration
}

// HTTPConfig holds edge concerns for the ingestion API.
type HTTPConfig struct {
	RateLimitPerMinute int
	CORSOrigins        []string
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory ticket store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// QueueConfig selects and tunes the triage work queue.
type QueueConfig struct {
	Mode           string
	Name           string
	Backlog        int
	ConsumerID     string
	BlockTimeout   time.Duration
	RecoverOnStart bool
}

// WorkerConfig tunes the triage worker pool.
type WorkerConfig struct {
	Concurrency int
	// Embedded runs the worker pool inside the API process.
	Embedded bool
	// MaxDeliveries bounds how often a job whose outcome could not be stored
	// is attempted before its ticket is marked failed.
	MaxDeliveries int
	RetryDelay    time.Duration
}

// AIConfig configures the model provider and the call budget around it.
type AIConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxTokens      int
	Temperature    float64
}

// BroadcastConfig selects how ticket updates reach live subscribers.
type BroadcastConfig struct {
	Mode             string
	Channel          string
	SubscriberBuffer int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	env := getEnv("APP_ENV", "development")
	defaultMode := ModeRedis
	if env == "local" {
		defaultMode = ModeMemory
	}
	queueMode := strings.ToLower(getEnv("QUEUE_MODE", defaultMode))
	broadcastMode := ModeLocal
	if queueMode == ModeRedis {
		broadcastMode = ModeRedis
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "triage-recovery-hub"),
			Env:                   env,
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			ShutdownTimeout:       getEnvAsDuration("APP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		HTTP: HTTPConfig{
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
			CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 20)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Queue: QueueConfig{
			Mode:           queueMode,
			Name:           getEnv("QUEUE_NAME", "triage:jobs"),
			Backlog:        getEnvAsInt("QUEUE_BACKLOG", 1000),
			ConsumerID:     getEnv("WORKER_ID", defaultConsumerID()),
			BlockTimeout:   getEnvAsDuration("QUEUE_BLOCK_TIMEOUT", time.Second),
			RecoverOnStart: getEnvAsBool("QUEUE_RECOVER_ON_START", true),
		},
		Worker: WorkerConfig{
			Concurrency:   getEnvAsInt("WORKER_CONCURRENCY", 2),
			Embedded:      getEnvAsBool("WORKER_EMBEDDED", queueMode == ModeMemory),
			MaxDeliveries: getEnvAsInt("WORKER_MAX_DELIVERIES", 3),
			RetryDelay:    getEnvAsDuration("WORKER_RETRY_DELAY", 2*time.Second),
		},
		AI: AIConfig{
			Provider:       strings.ToLower(getEnv("AI_PROVIDER", "gemini")),
			Model:          getEnv("AI_MODEL", "gemini-2.5-flash"),
			APIKey:         os.Getenv("AI_API_KEY"),
			BaseURL:        os.Getenv("AI_BASE_URL"),
			Timeout:        getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
			MaxAttempts:    getEnvAsInt("AI_MAX_ATTEMPTS", 3),
			BackoffInitial: getEnvAsDuration("AI_BACKOFF_INITIAL", 5*time.Second),
			BackoffMax:     getEnvAsDuration("AI_BACKOFF_MAX", 30*time.Second),
			MaxTokens:      getEnvAsInt("AI_MAX_TOKENS", 1024),
			Temperature:    getEnvAsFloat("AI_TEMPERATURE", 0.2),
		},
		Broadcast: BroadcastConfig{
			Mode:             strings.ToLower(getEnv("BROADCAST_MODE", broadcastMode)),
			Channel:          getEnv("BROADCAST_CHANNEL", "ticket:updated"),
			SubscriberBuffer: getEnvAsInt("BROADCAST_BUFFER", 16),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Queue.Mode {
	case ModeMemory, ModeRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid QUEUE_MODE %q", c.Queue.Mode))
	}
	switch c.Broadcast.Mode {
	case ModeLocal, ModeRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid BROADCAST_MODE %q", c.Broadcast.Mode))
	}
	if c.Queue.Mode == ModeMemory && !c.Worker.Embedded {
		errs = append(errs, errors.New("memory queue requires WORKER_EMBEDDED=true"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.Worker.MaxDeliveries <= 0 {
		errs = append(errs, errors.New("WORKER_MAX_DELIVERIES must be positive"))
	}
	if c.AI.MaxAttempts <= 0 {
		errs = append(errs, errors.New("AI_MAX_ATTEMPTS must be positive"))
	}
	if c.AI.Timeout <= 0 {
		errs = append(errs, errors.New("AI_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Queue.Mode == ModeRedis || c.Broadcast.Mode == ModeRedis
}

// APIQueue is the queue configuration for the API process. Recovery moves
// WORKER_ID's in-flight jobs back to pending, so it only runs when this
// process consumes the queue itself; otherwise a standalone worker sharing the
// id would lose its jobs to a second delivery.
func (c *Config) APIQueue() QueueConfig {
	q := c.Queue
	q.RecoverOnStart = q.RecoverOnStart && c.Worker.Embedded
	return q
}

func defaultConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("750ms") or bare seconds ("30").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
