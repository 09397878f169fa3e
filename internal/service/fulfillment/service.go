package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// PurchaseItem — позиция запроса на покупку.
type PurchaseItem struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// PurchaseRequest — корзина покупателя.
type PurchaseRequest struct {
	ConsumerID int            `json:"consumerId"`
	Items      []PurchaseItem `json:"items"`
}

// Service оформляет покупки: один заказ на каждого продавца из корзины.
type Service struct {
	products domain.ProductLedger
	users    domain.UserDirectory
	orders   domain.OrderLedger
	outbox   domain.OutboxRepository
	locks    *LockTable
	logger   *log.Entry
	metrics  *metrics.PurchaseMetrics
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutbox включает запись событий order.placed в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithMetrics задаёт метрики покупок.
func WithMetrics(m *metrics.PurchaseMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLockTable разделяет таблицу блокировок товаров с другими сервисами.
func WithLockTable(locks *LockTable) Option {
	return func(s *Service) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New создаёт сервис оформления покупок.
func New(products domain.ProductLedger, users domain.UserDirectory, orders domain.OrderLedger, opts ...Option) *Service {
	s := &Service{
		products: products,
		users:    users,
		orders:   orders,
		locks:    NewLockTable(),
		logger:   log.WithField("component", "fulfillment"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sellerGroup — позиции одного продавца.
type sellerGroup struct {
	seller domain.Seller
	items  []PurchaseItem
}

type reservation struct {
	productID int
	quantity  int
}

// Purchase списывает остатки и создаёт заказы. Либо применяется весь запрос целиком,
// либо ни одно списание не остаётся в силе и ни один заказ не сохраняется.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	s.metrics.RecordStarted()

	orders, err := s.purchase(req)
	s.metrics.RecordFinished(resultLabel(err), time.Since(started))
	return orders, err
}

func (s *Service) purchase(req PurchaseRequest) ([]domain.Order, error) {
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithField("consumer_id", req.ConsumerID)

	consumer, err := s.resolveConsumer(req.ConsumerID)
	if err != nil {
		return nil, err
	}

	groups, sellerIDs, err := s.groupBySeller(items)
	if err != nil {
		return nil, err
	}

	productIDs := make([]int, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}
	unlock := s.locks.Lock(productIDs...)
	defer unlock()

	var reserved []reservation
	totals := make(map[int]domain.Money, len(groups))
	for _, sellerID := range sellerIDs {
		total := domain.Zero
		for _, item := range groups[sellerID].items {
			product, err := s.products.ReserveAndDecrement(item.ProductID, item.Quantity)
			if err != nil {
				logger.WithError(err).WithFields(log.Fields{
					"product_id": item.ProductID,
					"seller_id":  sellerID,
				}).Warn("reservation failed, restocking request")
				if rollbackErr := s.restock(logger, reserved); rollbackErr != nil {
					return nil, errors.Join(err, rollbackErr)
				}
				return nil, err
			}
			reserved = append(reserved, reservation{productID: item.ProductID, quantity: item.Quantity})
			total = total.Add(product.Price.Mul(item.Quantity))
		}
		totals[sellerID] = total
	}

	now := s.now().UTC()
	created := make([]domain.Order, 0, len(sellerIDs))
	for _, sellerID := range sellerIDs {
		group := groups[sellerID]
		products := make(map[int]int, len(group.items))
		for _, item := range group.items {
			products[item.ProductID] = item.Quantity
		}

		order, err := s.orders.Create(domain.Order{
			ConsumerID:      consumer.ID,
			SellerID:        sellerID,
			Products:        products,
			ShippingAddress: consumer.Address,
			SendersAddress:  group.seller.Address,
			Total:           totals[sellerID],
			ShippingCost:    domain.Zero,
			PaymentMethod:   consumer.PreferredPaymentMethod,
			Status:          domain.OrderStatusPlaced,
			Timestamp:       now,
		})
		if err != nil {
			logger.WithError(err).WithField("seller_id", sellerID).Error("create order failed, rolling back purchase")
			rollbackErr := errors.Join(s.deleteOrders(logger, created), s.restock(logger, reserved))
			if rollbackErr != nil {
				return nil, errors.Join(err, rollbackErr)
			}
			return nil, err
		}
		created = append(created, order)
	}

	s.enqueueEvents(logger, created)

	units := 0
	for _, item := range items {
		units += item.Quantity
	}
	s.metrics.RecordOrders(len(created), units)

	logger.WithFields(log.Fields{
		"orders":  len(created),
		"sellers": sellerIDs,
		"units":   units,
	}).Info("purchase placed")

	return created, nil
}

// normalizeItems проверяет количества и объединяет повторяющиеся товары.
// Результат отсортирован по ID товара.
func normalizeItems(items []PurchaseItem) ([]PurchaseItem, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyRequest
	}

	merged := make(map[int]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, domain.ErrInvalidQuantity)
		}
		merged[item.ProductID] += item.Quantity
	}

	out := make([]PurchaseItem, 0, len(merged))
	for _, id := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, PurchaseItem{ProductID: id, Quantity: merged[id]})
	}
	return out, nil
}

func (s *Service) resolveConsumer(id int) (domain.Consumer, error) {
	user, err := s.users.GetByID(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Consumer{}, fmt.Errorf("%w: %w", domain.ErrNotAConsumer, domain.NewNotFound(domain.EntityConsumer, id))
		}
		return domain.Consumer{}, err
	}

	consumer, ok := user.AsConsumer()
	if !ok {
		return domain.Consumer{}, fmt.Errorf("user %d: %w", id, domain.ErrNotAConsumer)
	}
	return consumer, nil
}

// groupBySeller проверяет все товары до любых списаний и делит позиции по продавцам.
func (s *Service) groupBySeller(items []PurchaseItem) (map[int]*sellerGroup, []int, error) {
	groups := make(map[int]*sellerGroup)
	for _, item := range items {
		product, err := s.products.GetByID(item.ProductID)
		if err != nil {
			return nil, nil, err
		}
		group, ok := groups[product.SellerID]
		if !ok {
			group = &sellerGroup{}
			groups[product.SellerID] = group
		}
		group.items = append(group.items, item)
	}

	sellerIDs := slices.Sorted(maps.Keys(groups))
	for _, sellerID := range sellerIDs {
		user, err := s.users.GetByID(sellerID)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil, nil, fmt.Errorf("%w: %w", domain.ErrNotASeller, domain.NewNotFound(domain.EntitySeller, sellerID))
			}
			return nil, nil, err
		}
		seller, ok := user.AsSeller()
		if !ok {
			return nil, nil, fmt.Errorf("user %d: %w", sellerID, domain.ErrNotASeller)
		}
		groups[sellerID].seller = seller
	}

	return groups, sellerIDs, nil
}

// restock возвращает списанное в обратном порядке. Неудачные возвраты
// не прерывают откат и попадают в итоговую ошибку.
func (s *Service) restock(logger *log.Entry, reserved []reservation) error {
	if len(reserved) == 0 {
		return nil
	}
	s.metrics.RecordRollback()

	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if _, err := s.products.Restock(r.productID, r.quantity); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"product_id": r.productID,
				"quantity":   r.quantity,
			}).Error("restock failed, stock is lower than expected")
			errs = append(errs, fmt.Errorf("rollback: restock product %d by %d: %w", r.productID, r.quantity, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deleteOrders(logger *log.Entry, orders []domain.Order) error {
	var errs []error
	for i := len(orders) - 1; i >= 0; i-- {
		if err := s.orders.Delete(orders[i].ID); err != nil {
			logger.WithError(err).WithField("order_id", orders[i].ID).Error("delete order during rollback failed")
			errs = append(errs, fmt.Errorf("rollback: delete order %d: %w", orders[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// enqueueEvents пишет order.placed в outbox. Ошибка не отменяет уже созданные заказы.
func (s *Service) enqueueEvents(logger *log.Entry, orders []domain.Order) {
	if s.outbox == nil {
		return
	}

	for _, order := range orders {
		msg, err := kafka.NewOrderPlacedEvent(order).OutboxMessage()
		if err == nil {
			_, err = s.outbox.Enqueue(msg)
		}
		if err != nil {
			logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order placed event")
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultPlaced
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultOutOfStock
	case errors.Is(err, domain.ErrPersist):
		return metrics.ResultPersistError
	default:
		return metrics.ResultRejected
	}
}
