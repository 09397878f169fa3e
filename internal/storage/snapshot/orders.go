package snapshot

import (
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type orderLedger struct {
	store *Store[domain.Order]
}

// NewOrderLedger создаёт OrderLedger поверх коллекции заказов.
func NewOrderLedger(store *Store[domain.Order]) domain.OrderLedger {
	return &orderLedger{store: store}
}

func (l *orderLedger) Create(order domain.Order) (domain.Order, error) {
	order.ID = 0
	if err := domain.NewValidationError(domain.EntityOrder, order.ValidateInvariants()); err != nil {
		return domain.Order{}, err
	}
	return l.store.Insert(order)
}

func (l *orderLedger) GetByID(id int) (domain.Order, error) {
	order, ok := l.store.Get(id)
	if !ok {
		return domain.Order{}, domain.NewNotFound(domain.EntityOrder, id)
	}
	return order, nil
}

func (l *orderLedger) ListAll() []domain.Order {
	return l.store.All()
}

func (l *orderLedger) ListByConsumer(consumerID int) []domain.Order {
	return l.store.Find(func(o domain.Order) bool {
		return o.ConsumerID == consumerID
	})
}

func (l *orderLedger) ListBySeller(sellerID int) []domain.Order {
	return l.store.Find(func(o domain.Order) bool {
		return o.SellerID == sellerID
	})
}

func (l *orderLedger) Delete(id int) error {
	found, err := l.store.DeleteByID(id)
	if !found {
		return domain.NewNotFound(domain.EntityOrder, id)
	}
	return err
}

var _ domain.OrderLedger = (*orderLedger)(nil)
