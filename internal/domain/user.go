package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// UserType — дискриминатор варианта пользователя в снапшоте.
type UserType string

const (
	UserTypeConsumer UserType = "consumer"
	UserTypeSeller   UserType = "seller"
)

// Valid проверяет, что тип относится к поддерживаемым значениям.
func (t UserType) Valid() bool {
	return t == UserTypeConsumer || t == UserTypeSeller
}

// PaymentMethod — способ оплаты покупателя.
type PaymentMethod string

const (
	PaymentMethodPIX        PaymentMethod = "PIX"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentMethodBoleto     PaymentMethod = "BOLETO"
)

// Valid проверяет, что способ оплаты известен.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPIX, PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodBoleto:
		return true
	default:
		return false
	}
}

// Account — общие поля обоих вариантов пользователя.
type Account struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	CPF      string `json:"cpf,omitempty"`
	Password string `json:"password"`
	Address  string `json:"address"`
}

// Consumer — покупатель.
type Consumer struct {
	Account
	Cart                   map[int]int   `json:"cart"`
	PreferredPaymentMethod PaymentMethod `json:"preferredPaymentMethod"`
}

// Seller — продавец. Inventory денормализован, остатки ведёт ProductLedger.
type Seller struct {
	Account
	WalletBalance Money       `json:"walletBalance"`
	Inventory     map[int]int `json:"inventory"`
}

// User — сумма типов {Consumer, Seller}. Нулевое значение невалидно.
type User struct {
	kind     UserType
	consumer Consumer
	seller   Seller
}

// NewConsumerUser оборачивает покупателя; пустой способ оплаты заменяется на PIX.
func NewConsumerUser(c Consumer) User {
	if c.PreferredPaymentMethod == "" {
		c.PreferredPaymentMethod = PaymentMethodPIX
	}
	return User{kind: UserTypeConsumer, consumer: c}
}

// NewSellerUser оборачивает продавца.
func NewSellerUser(s Seller) User {
	return User{kind: UserTypeSeller, seller: s}
}

// Type возвращает вариант пользователя.
func (u User) Type() UserType { return u.kind }

// Account возвращает общие поля.
func (u User) Account() Account {
	switch u.kind {
	case UserTypeConsumer:
		return u.consumer.Account
	case UserTypeSeller:
		return u.seller.Account
	default:
		return Account{}
	}
}

// ID возвращает идентификатор пользователя.
func (u User) ID() int { return u.Account().ID }

// Email возвращает email пользователя.
func (u User) Email() string { return u.Account().Email }

// AsConsumer возвращает покупателя, если пользователь им является.
func (u User) AsConsumer() (Consumer, bool) {
	if u.kind != UserTypeConsumer {
		return Consumer{}, false
	}
	return u.Clone().consumer, true
}

// AsSeller возвращает продавца, если пользователь им является.
func (u User) AsSeller() (Seller, bool) {
	if u.kind != UserTypeSeller {
		return Seller{}, false
	}
	return u.Clone().seller, true
}

// WithAccount возвращает копию с заменёнными общими полями.
func (u User) WithAccount(a Account) User {
	u = u.Clone()
	switch u.kind {
	case UserTypeConsumer:
		u.consumer.Account = a
	case UserTypeSeller:
		u.seller.Account = a
	}
	return u
}

// WithoutState возвращает копию с пустыми корзиной и инвентарём и нулевым кошельком.
func (u User) WithoutState() User {
	switch u.kind {
	case UserTypeConsumer:
		u.consumer.Cart = map[int]int{}
	case UserTypeSeller:
		u.seller.WalletBalance = Zero
		u.seller.Inventory = map[int]int{}
	}
	return u
}

// EntityID возвращает идентификатор для хранилища.
func (u User) EntityID() int { return u.ID() }

// WithEntityID возвращает копию с новым идентификатором.
func (u User) WithEntityID(id int) User {
	a := u.Account()
	a.ID = id
	return u.WithAccount(a)
}

// Clone возвращает независимую копию (карты не разделяются).
func (u User) Clone() User {
	u.consumer.Cart = maps.Clone(u.consumer.Cart)
	u.seller.Inventory = maps.Clone(u.seller.Inventory)
	return u
}

// ValidateInvariants проверяет обязательные поля пользователя.
func (u User) ValidateInvariants() []error {
	var errs []error
	if !u.kind.Valid() {
		return append(errs, ErrUnknownUserType)
	}
	a := u.Account()
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	if strings.TrimSpace(a.Email) == "" {
		errs = append(errs, ErrEmailRequired)
	}
	if a.Password == "" {
		errs = append(errs, ErrPasswordRequired)
	}
	if u.kind == UserTypeConsumer && !u.consumer.PreferredPaymentMethod.Valid() {
		errs = append(errs, ErrInvalidPaymentMethod)
	}
	return errs
}

// MarshalJSON пишет плоский объект с полем "type".
func (u User) MarshalJSON() ([]byte, error) {
	switch u.kind {
	case UserTypeConsumer:
		return json.Marshal(struct {
			Type UserType `json:"type"`
			Consumer
		}{Type: UserTypeConsumer, Consumer: u.consumer})
	case UserTypeSeller:
		return json.Marshal(struct {
			Type UserType `json:"type"`
			Seller
		}{Type: UserTypeSeller, Seller: u.seller})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUserType, u.kind)
	}
}

// UnmarshalJSON выбирает вариант по полю "type".
func (u *User) UnmarshalJSON(data []byte) error {
	var head struct {
		Type UserType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch UserType(strings.ToLower(string(head.Type))) {
	case UserTypeConsumer:
		var c Consumer
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		*u = NewConsumerUser(c)
	case UserTypeSeller:
		var s Seller
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = NewSellerUser(s)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUserType, head.Type)
	}
	return nil
}
