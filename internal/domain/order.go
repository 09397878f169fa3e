package domain

import (
	"maps"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPlaced — начальное состояние; единственное, которое пишет ядро.
	OrderStatusPlaced         OrderStatus = "PLACED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusInTransit      OrderStatus = "INTRANSIT"
	OrderStatusOutForDelivery OrderStatus = "OUTFORDELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusReturned       OrderStatus = "RETURNED"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusProcessing, OrderStatusShipped, OrderStatusInTransit,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusReturned, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// Order — заказ одного покупателя у одного продавца.
type Order struct {
	ID              int           `json:"id"`
	ConsumerID      int           `json:"consumerId"`
	SellerID        int           `json:"sellerId"`
	Products        map[int]int   `json:"products"`
	ShippingAddress string        `json:"shippingAddress"`
	SendersAddress  string        `json:"sendersAddress"`
	Total           Money         `json:"total"`
	ShippingCost    Money         `json:"shippingCost"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	Status          OrderStatus   `json:"status"`
	Timestamp       time.Time     `json:"timestamp"`
}

// EntityID возвращает идентификатор для хранилища.
func (o Order) EntityID() int { return o.ID }

// WithEntityID возвращает копию с новым идентификатором.
func (o Order) WithEntityID(id int) Order {
	o.ID = id
	return o
}

// Clone возвращает независимую копию заказа.
func (o Order) Clone() Order {
	o.Products = maps.Clone(o.Products)
	return o
}

// ItemCount — суммарное количество единиц в заказе.
func (o Order) ItemCount() int {
	total := 0
	for _, qty := range o.Products {
		total += qty
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o Order) ValidateInvariants() []error {
	var errs []error

	if o.ConsumerID <= 0 {
		errs = append(errs, ErrConsumerIDRequired)
	}
	if o.SellerID <= 0 {
		errs = append(errs, ErrSellerIDRequired)
	}
	if len(o.Products) == 0 {
		errs = append(errs, ErrOrderItemsRequired)
	}
	for _, qty := range o.Products {
		if qty <= 0 {
			errs = append(errs, ErrInvalidQuantity)
			break
		}
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrOrderTotalNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if o.Timestamp.IsZero() {
		errs = append(errs, ErrOrderTimestampMissed)
	}

	return errs
}
