package domain

import (
	"encoding/json"
	"time"
)

// ProductLedger — хранилище товаров с атомарными операциями над остатком.
type ProductLedger interface {
	GetByID(id int) (Product, error)
	ListAll() []Product
	ListBySeller(sellerID int) []Product
	// Create присваивает новый ID и сохраняет товар.
	Create(product Product) (Product, error)
	// Replace заменяет поля товара, сохраняя ID и SellerID существующей записи.
	Replace(id int, updated Product) (Product, error)
	Delete(id int) error
	// ReserveAndDecrement атомарно проверяет остаток и списывает qty.
	ReserveAndDecrement(id, qty int) (Product, error)
	// Restock возвращает qty на склад (компенсация списания).
	Restock(id, qty int) (Product, error)
	// IsOwnedBy сообщает, принадлежит ли товар продавцу.
	IsOwnedBy(productID, sellerID int) (bool, error)
}

// UserDirectory — справочник пользователей.
type UserDirectory interface {
	GetByID(id int) (User, error)
	// GetByEmail ищет без учёта регистра.
	GetByEmail(email string) (User, error)
	// Register возвращает ErrDuplicateEmail, если email уже занят.
	Register(user User) (User, error)
	// Authenticate проверяет пароль пользователя.
	Authenticate(email, password string) (User, error)
	ListAll() []User
}

// OrderLedger — журнал заказов.
type OrderLedger interface {
	Create(order Order) (Order, error)
	GetByID(id int) (Order, error)
	ListAll() []Order
	ListByConsumer(consumerID int) []Order
	ListBySeller(sellerID int) []Order
	// Delete используется только для компенсации незавершённой покупки.
	Delete(id int) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Типы событий outbox.
const (
	AggregateTypeOrder   = "order"
	EventTypeOrderPlaced = "order.placed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// DeadLetter — содержимое сообщения DLQ: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Original восстанавливает исходное outbox-сообщение для повторной публикации.
func (d DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       append([]byte(nil), d.Payload...),
	}
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
