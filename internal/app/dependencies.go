package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/marketplace/internal/storage/redis"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/snapshot"
)

// runtimeDependencies — хранилища и клиенты, выбранные конфигурацией.
type runtimeDependencies struct {
	ledgers         snapshot.Ledgers
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	producer        *kafka.Producer

	// checkers регистрируются в health-handler под своими именами.
	checkers map[string]healthcheck.Checker
	closeFn  func() error
}

// initRuntimeDependencies открывает хранилища согласно cfg.
// При ошибке уже открытые соединения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	var closers []func() error
	deps.closeFn = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = deps.closeFn()
			deps = nil
		}
	}()

	var pg *postgres.Store
	if cfg.usesPostgres() {
		pg, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pg.Close)
	}

	factory, storageChecker, err := snapshotBackends(cfg, pg)
	if err != nil {
		return nil, err
	}
	deps.checkers["storage"] = storageChecker

	deps.ledgers, err = snapshot.OpenLedgers(factory, nil,
		snapshot.WithLogger(logger.WithField("layer", "snapshot")),
		snapshot.WithObserver(metrics.NewStorageMetrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("open ledgers: %w", err)
	}

	if pg != nil && cfg.StorageDriver == StorageDriverPostgres {
		deps.outboxRepo = postgres.NewOutboxRepository(pg)
	} else {
		deps.outboxRepo = memory.NewOutboxRepository()
	}

	switch cfg.IdempotencyDriver {
	case IdempotencyDriverPostgres:
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(pg)
	case IdempotencyDriverRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		closers = append(closers, client.Close)
		repo := redisstore.NewIdempotencyRepository(client, "")
		deps.idempotencyRepo = repo
		deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", repo.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency store connected")
	default:
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	}

	// Недоступная Kafka не мешает продажам.
	producer, kafkaErr := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if kafkaErr != nil {
		logger.WithError(kafkaErr).Warn("continuing without kafka")
	}
	if producer != nil {
		deps.producer = producer
		closers = append(closers, func() error {
			closeKafka(producer, logger)
			return nil
		})
		deps.checkers["outbox"] = newOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending)
	}

	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	pg, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithStoreLogger(logger.WithField("layer", "postgres")))
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	}
	return pg, nil
}

// snapshotBackends выбирает backend коллекций и проверку его доступности.
func snapshotBackends(cfg Config, pg *postgres.Store) (snapshot.BackendFactory, healthcheck.Checker, error) {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return postgres.SnapshotBackends(pg), healthcheck.NewCriticalChecker("postgres", pg.Ping), nil
	case StorageDriverFile:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
		return snapshot.FileBackends(cfg.DataDir), healthcheck.NewCriticalChecker("file", dataDirPing(cfg.DataDir)), nil
	case StorageDriverMemory:
		return snapshot.MemoryBackends(), healthcheck.NewCriticalChecker("memory", func(context.Context) error { return nil }), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func dataDirPing(dir string) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}

// newOutboxBacklogChecker деградирует, когда неотправленных событий больше maxPending.
func newOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func(context.Context) error {
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}
