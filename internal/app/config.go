package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver — где хранятся снапшоты товаров, пользователей и заказов.
type StorageDriver string

const (
	StorageDriverFile     StorageDriver = "file"
	StorageDriverPostgres StorageDriver = "postgres"
	StorageDriverMemory   StorageDriver = "memory"
)

// IdempotencyDriver — где хранятся ключи Idempotency-Key.
type IdempotencyDriver string

const (
	IdempotencyDriverMemory   IdempotencyDriver = "memory"
	IdempotencyDriverPostgres IdempotencyDriver = "postgres"
	IdempotencyDriverRedis    IdempotencyDriver = "redis"
)

const envPrefix = "MARKETPLACE_"

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	DataDir             string
	PostgresDSN         string
	PostgresAutoMigrate bool

	IdempotencyDriver           IdempotencyDriver
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string
	KafkaClientID string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverFile,
		DataDir:             "data",
		PostgresAutoMigrate: true,

		IdempotencyDriver:           IdempotencyDriverMemory,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		KafkaTopic:    "marketplace.order.events",
		KafkaDLQTopic: "marketplace.dlq",
		KafkaClientID: "marketplace",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,

		RequestTimeout:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate проверяет согласованность драйверов и адресов.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverFile:
		if strings.TrimSpace(c.DataDir) == "" {
			errs = append(errs, errors.New("data dir is required for file storage"))
		}
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyDriver {
	case IdempotencyDriverMemory, IdempotencyDriverPostgres:
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis idempotency driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
	}

	if c.usesPostgres() && strings.TrimSpace(c.PostgresDSN) == "" {
		errs = append(errs, errors.New("postgres dsn is required"))
	}
	return errors.Join(errs...)
}

func (c Config) usesPostgres() bool {
	return c.StorageDriver == StorageDriverPostgres || c.IdempotencyDriver == IdempotencyDriverPostgres
}

// ReadConfigFromEnv читает MARKETPLACE_* из окружения процесса.
// Некорректные значения оставляют значение по умолчанию и попадают в warnings.
func ReadConfigFromEnv() (Config, []string) {
	return readConfigFromEnv(os.LookupEnv)
}

func readConfigFromEnv(lookup func(string) (string, bool)) (Config, []string) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("HTTP_ADDR", &cfg.HTTPAddr)
	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := r.get("STORAGE_DRIVER"); ok {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	r.str("DATA_DIR", &cfg.DataDir)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	if v, ok := r.get("IDEMPOTENCY_DRIVER"); ok {
		cfg.IdempotencyDriver = IdempotencyDriver(strings.ToLower(v))
	}
	r.str("REDIS_ADDR", &cfg.RedisAddr)
	r.duration("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL, positiveDuration)
	r.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval, positiveDuration)
	r.integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize, positiveInt)

	if v, ok := r.get("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	r.str("KAFKA_TOPIC", &cfg.KafkaTopic)
	r.str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	r.str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval, positiveDuration)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, positiveInt)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, positiveInt)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay, nonNegativeDuration)
	r.integer("OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending, positiveInt)

	r.duration("REQUEST_TIMEOUT", &cfg.RequestTimeout, positiveDuration)
	r.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, positiveDuration)

	return cfg, r.warnings
}

type envReader struct {
	lookup   func(string) (string, bool)
	warnings []string
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) warn(name, value, reason string) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s%s=%q ignored: %s", envPrefix, name, value, reason))
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	parsed, err := parseBool(v)
	if err != nil {
		r.warn(name, v, err.Error())
		return
	}
	*dst = parsed
}

func (r *envReader) integer(name string, dst *int, validate func(int) error) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err == nil && validate != nil {
		err = validate(parsed)
	}
	if err != nil {
		r.warn(name, v, err.Error())
		return
	}
	*dst = parsed
}

func (r *envReader) duration(name string, dst *time.Duration, validate func(time.Duration) error) {
	v, ok := r.get(name)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err == nil && validate != nil {
		err = validate(parsed)
	}
	if err != nil {
		r.warn(name, v, err.Error())
		return
	}
	*dst = parsed
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, errors.New("expected boolean")
	}
}

func positiveInt(v int) error {
	if v <= 0 {
		return errors.New("must be > 0")
	}
	return nil
}

func positiveDuration(v time.Duration) error {
	if v <= 0 {
		return errors.New("must be > 0")
	}
	return nil
}

func nonNegativeDuration(v time.Duration) error {
	if v < 0 {
		return errors.New("must be >= 0")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
