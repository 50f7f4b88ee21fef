package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeRedis, cfg.Queue.Mode)
	assert.Equal(t, ModeRedis, cfg.Broadcast.Mode)
	assert.False(t, cfg.Worker.Embedded)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 3, cfg.AI.MaxAttempts)
	assert.Equal(t, "ticket:updated", cfg.Broadcast.Channel)
	assert.Equal(t, 30, cfg.HTTP.RateLimitPerMinute)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.HTTP.CORSOrigins)
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, 3, cfg.Worker.MaxDeliveries)
	assert.Equal(t, 2*time.Second, cfg.Worker.RetryDelay)
}

func TestLoadLocalEnvSelectsInMemoryBackends(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeMemory, cfg.Queue.Mode)
	assert.Equal(t, ModeLocal, cfg.Broadcast.Mode)
	assert.True(t, cfg.Worker.Embedded)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AI_TIMEOUT", "750ms")
	t.Setenv("AI_BACKOFF_INITIAL", "2")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("QUEUE_BACKLOG", "not-a-number")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.AI.Timeout)
	assert.Equal(t, 2*time.Second, cfg.AI.BackoffInitial)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 1000, cfg.Queue.Backlog)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown queue mode", func(c *Config) { c.Queue.Mode = "kafka" }, "invalid QUEUE_MODE"},
		{"unknown broadcast mode", func(c *Config) { c.Broadcast.Mode = "nats" }, "invalid BROADCAST_MODE"},
		{"memory queue without embedded workers", func(c *Config) {
			c.Queue.Mode = ModeMemory
			c.Worker.Embedded = false
		}, "WORKER_EMBEDDED"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "WORKER_CONCURRENCY"},
		{"zero attempts", func(c *Config) { c.AI.MaxAttempts = 0 }, "AI_MAX_ATTEMPTS"},
		{"zero deliveries", func(c *Config) { c.Worker.MaxDeliveries = 0 }, "WORKER_MAX_DELIVERIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		Queue:     QueueConfig{Mode: ModeRedis},
		Broadcast: BroadcastConfig{Mode: ModeRedis},
		Worker:    WorkerConfig{Concurrency: 1, MaxDeliveries: 1},
		AI:        AIConfig{MaxAttempts: 1, Timeout: time.Second},
	}
}

func TestAPIQueueRecoversOnlyWithEmbeddedWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.RecoverOnStart = true

	assert.False(t, cfg.APIQueue().RecoverOnStart)
	assert.True(t, cfg.Queue.RecoverOnStart, "the worker process keeps recovering")

	cfg.Worker.Embedded = true
	assert.True(t, cfg.APIQueue().RecoverOnStart)

	cfg.Queue.RecoverOnStart = false
	assert.False(t, cfg.APIQueue().RecoverOnStart)
}
