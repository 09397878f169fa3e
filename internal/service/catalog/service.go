// Package catalog обслуживает каталог товаров, пользователей и чтение заказов.
// Оформление покупок живёт в пакете fulfillment; обе стороны делят одну LockTable,
// поэтому замена или удаление товара не пересекается с его резервированием.
package catalog

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
)

// Service — операции каталога поверх ledger-ов.
type Service struct {
	products domain.ProductLedger
	users    domain.UserDirectory
	orders   domain.OrderLedger
	locks    *fulfillment.LockTable
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLockTable подключает общую с fulfillment таблицу блокировок.
func WithLockTable(locks *fulfillment.LockTable) Option {
	return func(s *Service) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// New создаёт сервис каталога.
func New(products domain.ProductLedger, users domain.UserDirectory, orders domain.OrderLedger, opts ...Option) *Service {
	s := &Service{
		products: products,
		users:    users,
		orders:   orders,
		locks:    fulfillment.NewLockTable(),
		logger:   log.WithField("component", "catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// seller возвращает продавца или ErrNotASeller (в том числе для отсутствующего ID).
func (s *Service) seller(id int) (domain.Seller, error) {
	user, err := s.users.GetByID(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Seller{}, fmt.Errorf("%w: %w", domain.ErrNotASeller, domain.NewNotFound(domain.EntitySeller, id))
		}
		return domain.Seller{}, err
	}
	seller, ok := user.AsSeller()
	if !ok {
		return domain.Seller{}, fmt.Errorf("user %d: %w", id, domain.ErrNotASeller)
	}
	return seller, nil
}

// consumer возвращает покупателя или ErrNotAConsumer.
func (s *Service) consumer(id int) (domain.Consumer, error) {
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
