package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

type services struct {
	catalog   *catalog.Service
	purchases *fulfillment.Service
	guard     *idempotency.Guard
	outbox    bool
}

// outboxEnabled сообщает, есть ли у событий order.placed получатель:
// Kafka сейчас или долговечная таблица outbox в PostgreSQL.
func outboxEnabled(cfg Config, deps *runtimeDependencies) bool {
	return deps.producer != nil || cfg.StorageDriver == StorageDriverPostgres
}

// newServices собирает сервисы поверх общей таблицы блокировок товаров.
func newServices(cfg Config, deps *runtimeDependencies, logger *log.Entry) services {
	locks := fulfillment.NewLockTable()

	purchaseOpts := []fulfillment.Option{
		fulfillment.WithLogger(logger.WithField("layer", "fulfillment")),
		fulfillment.WithLockTable(locks),
		fulfillment.WithMetrics(metrics.NewPurchaseMetrics()),
	}
	withOutbox := outboxEnabled(cfg, deps)
	if withOutbox {
		purchaseOpts = append(purchaseOpts, fulfillment.WithOutbox(deps.outboxRepo))
	}

	return services{
		catalog: catalog.New(deps.ledgers.Products, deps.ledgers.Users, deps.ledgers.Orders,
			catalog.WithLogger(logger.WithField("layer", "catalog")),
			catalog.WithLockTable(locks),
		),
		purchases: fulfillment.New(deps.ledgers.Products, deps.ledgers.Users, deps.ledgers.Orders, purchaseOpts...),
		guard: idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
		),
		outbox: withOutbox,
	}
}
