package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound — базовая ошибка отсутствующей сущности (продукт, пользователь, заказ).
	ErrNotFound = errors.New("not found")
	// Продавец пытается изменить чужой продукт.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateEmail — email уже зарегистрирован (сравнение без учёта регистра).
	ErrDuplicateEmail = errors.New("email already registered")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// Запрос на покупку без позиций.
	ErrEmptyRequest = errors.New("purchase request must contain at least one item")
	// ErrNotAConsumer — пользователь отсутствует или не является покупателем.
	ErrNotAConsumer = errors.New("user is not a consumer")
	// ErrNotASeller — пользователь отсутствует или не является продавцом.
	ErrNotASeller = errors.New("user is not a seller")
	// ErrValidation оборачивает ошибки валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// Неверная пара email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSnapshotCorrupted — снапшот коллекции не удалось разобрать при старте.
	ErrSnapshotCorrupted = errors.New("snapshot is corrupted")
	// ErrPersist — не удалось записать снапшот; изменение в памяти откатывается.
	ErrPersist = errors.New("persist snapshot failed")

	// Ошибки валидации продукта.
	ErrTitleRequired    = errors.New("product title is required")
	ErrPriceNegative    = errors.New("product price must be non-negative")
	ErrStockNegative    = errors.New("product stock must be non-negative")
	ErrSellerIDRequired = errors.New("seller_id is required")

	// Ошибки валидации пользователя.
	ErrNameRequired         = errors.New("user name is required")
	ErrEmailRequired        = errors.New("user email is required")
	ErrPasswordRequired     = errors.New("user password is required")
	ErrUnknownUserType      = errors.New("unknown user type")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// Ошибки валидации заказа.
	ErrConsumerIDRequired   = errors.New("consumer_id is required")
	ErrOrderItemsRequired   = errors.New("order must contain at least one product")
	ErrOrderTotalNegative   = errors.New("order total must be non-negative")
	ErrOrderStatusInvalid   = errors.New("order status is invalid")
	ErrOrderTimestampMissed = errors.New("order timestamp is required")

	// Пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound возвращается, если записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Названия сущностей для NotFoundError.
const (
	EntityProduct  = "product"
	EntityUser     = "user"
	EntityConsumer = "consumer"
	EntitySeller   = "seller"
	EntityOrder    = "order"
)

// NotFoundError указывает, какая именно сущность не найдена.
type NotFoundError struct {
	Entity string
	ID     int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound создаёт ошибку отсутствующей сущности.
func NewNotFound(entity string, id int) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError несёт доступный и запрошенный остаток.
type InsufficientStockError struct {
	ProductID int
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ValidationError собирает все замечания по одной сущности.
type ValidationError struct {
	Entity string
	Errs   []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.Errs...)
}

// NewValidationError возвращает nil, если замечаний нет.
func NewValidationError(entity string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Entity: entity, Errs: errs}
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsInsufficientStock извлекает детали нехватки остатка.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
