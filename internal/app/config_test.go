package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, StorageDriverFile, cfg.StorageDriver)
	assert.Equal(t, IdempotencyDriverMemory, cfg.IdempotencyDriver)
	assert.True(t, cfg.PostgresAutoMigrate)
	assert.Positive(t, cfg.OutboxPollInterval)
	assert.Positive(t, cfg.OutboxBatchSize)
	assert.Positive(t, cfg.OutboxMaxAttempts)
	assert.Positive(t, cfg.OutboxMaxPending)
	assert.Positive(t, cfg.IdempotencyTTL)
	assert.Positive(t, cfg.IdempotencyCleanupInterval)
	assert.Positive(t, cfg.IdempotencyCleanupBatchSize)
	require.NoError(t, cfg.Validate())
}

func TestReadConfigFromEnv_Overrides(t *testing.T) {
	cfg, warnings := readConfigFromEnv(envLookup(map[string]string{
		"MARKETPLACE_HTTP_ADDR":                      "127.0.0.1:18080",
		"MARKETPLACE_STORAGE_DRIVER":                 "POSTGRES",
		"MARKETPLACE_POSTGRES_DSN":                   "postgres://m:m@localhost:5432/m",
		"MARKETPLACE_POSTGRES_AUTO_MIGRATE":          "off",
		"MARKETPLACE_IDEMPOTENCY_DRIVER":             "redis",
		"MARKETPLACE_REDIS_ADDR":                     "localhost:6379",
		"MARKETPLACE_IDEMPOTENCY_TTL":                "2h",
		"MARKETPLACE_KAFKA_BROKERS":                  " a:9092, ,b:9092 ",
		"MARKETPLACE_OUTBOX_BATCH_SIZE":              "50",
		"MARKETPLACE_OUTBOX_RETRY_DELAY":             "0s",
		"MARKETPLACE_IDEMPOTENCY_CLEANUP_BATCH_SIZE": "10",
	}))

	assert.Empty(t, warnings)
	assert.Equal(t, "127.0.0.1:18080", cfg.HTTPAddr)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.False(t, cfg.PostgresAutoMigrate)
	assert.Equal(t, IdempotencyDriverRedis, cfg.IdempotencyDriver)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Zero(t, cfg.OutboxRetryDelay)
	assert.Equal(t, 10, cfg.IdempotencyCleanupBatchSize)
	require.NoError(t, cfg.Validate())
}

func TestReadConfigFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	defaults := DefaultConfig()
	cfg, warnings := readConfigFromEnv(envLookup(map[string]string{
		"MARKETPLACE_POSTGRES_AUTO_MIGRATE": "maybe",
		"MARKETPLACE_OUTBOX_BATCH_SIZE":     "-1",
		"MARKETPLACE_OUTBOX_MAX_ATTEMPTS":   "many",
		"MARKETPLACE_OUTBOX_POLL_INTERVAL":  "0s",
		"MARKETPLACE_IDEMPOTENCY_TTL":       "soon",
		"MARKETPLACE_HTTP_ADDR":             "   ",
	}))

	require.Len(t, warnings, 5)
	for _, w := range warnings {
		assert.True(t, strings.HasPrefix(w, "MARKETPLACE_"), w)
	}
	assert.Equal(t, defaults.PostgresAutoMigrate, cfg.PostgresAutoMigrate)
	assert.Equal(t, defaults.OutboxBatchSize, cfg.OutboxBatchSize)
	assert.Equal(t, defaults.OutboxMaxAttempts, cfg.OutboxMaxAttempts)
	assert.Equal(t, defaults.OutboxPollInterval, cfg.OutboxPollInterval)
	assert.Equal(t, defaults.IdempotencyTTL, cfg.IdempotencyTTL)
	assert.Equal(t, defaults.HTTPAddr, cfg.HTTPAddr)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory", mutate: func(c *Config) { c.StorageDriver = StorageDriverMemory }},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageDriver = "tape" }, wantErr: "unsupported storage driver"},
		{name: "unknown idempotency", mutate: func(c *Config) { c.IdempotencyDriver = "etcd" }, wantErr: "unsupported idempotency driver"},
		{name: "file without dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data dir is required"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, wantErr: "postgres dsn is required"},
		{name: "postgres idempotency without dsn", mutate: func(c *Config) { c.IdempotencyDriver = IdempotencyDriverPostgres }, wantErr: "postgres dsn is required"},
		{name: "redis without addr", mutate: func(c *Config) { c.IdempotencyDriver = IdempotencyDriverRedis }, wantErr: "redis addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "on"} {
		got, err := parseBool(v)
		require.NoError(t, err)
		assert.True(t, got, v)
	}
	for _, v := range []string{"0", "false", "No", "off"} {
		got, err := parseBool(v)
		require.NoError(t, err)
		assert.False(t, got, v)
	}
	_, err := parseBool("perhaps")
	require.Error(t, err)
}
