package snapshot

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type userDirectory struct {
	store *Store[domain.User]
	cost  int
	// registerMu делает проверку уникальности email и вставку одной операцией.
	registerMu sync.Mutex
}

// UserDirectoryOption настраивает справочник пользователей.
type UserDirectoryOption func(*userDirectory)

// WithBcryptCost задаёт стоимость bcrypt для новых паролей.
func WithBcryptCost(cost int) UserDirectoryOption {
	return func(d *userDirectory) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			d.cost = cost
		}
	}
}

// NewUserDirectory создаёт UserDirectory поверх коллекции пользователей.
func NewUserDirectory(store *Store[domain.User], opts ...UserDirectoryOption) domain.UserDirectory {
	d := &userDirectory{store: store, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *userDirectory) GetByID(id int) (domain.User, error) {
	user, ok := d.store.Get(id)
	if !ok {
		return domain.User{}, domain.NewNotFound(domain.EntityUser, id)
	}
	return user, nil
}

func (d *userDirectory) GetByEmail(email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, domain.ErrEmailRequired
	}

	matches := d.store.Find(func(u domain.User) bool {
		return strings.EqualFold(u.Email(), email)
	})
	if len(matches) == 0 {
		return domain.User{}, fmt.Errorf("user with email %q: %w", email, domain.ErrNotFound)
	}
	return matches[0], nil
}

// Register всегда хэширует пароль и сбрасывает корзину, инвентарь и кошелёк.
func (d *userDirectory) Register(user domain.User) (domain.User, error) {
	user = user.WithoutState()
	account := user.Account()
	account.ID = 0
	account.Email = strings.TrimSpace(account.Email)
	account.Name = strings.TrimSpace(account.Name)
	user = user.WithAccount(account)

	if err := domain.NewValidationError(domain.EntityUser, user.ValidateInvariants()); err != nil {
		return domain.User{}, err
	}

	hash, err := d.hashPassword(account.Password)
	if err != nil {
		return domain.User{}, err
	}
	account.Password = hash
	user = user.WithAccount(account)

	d.registerMu.Lock()
	defer d.registerMu.Unlock()

	if _, err := d.GetByEmail(account.Email); err == nil {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, account.Email)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	return d.store.Insert(user)
}

// Authenticate сверяет пароль с bcrypt-хэшем; записи старого формата хранят пароль как есть.
func (d *userDirectory) Authenticate(email, password string) (domain.User, error) {
	user, err := d.GetByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, err
	}

	stored := user.Account().Password
	if isBcryptHash(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return user, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

func (d *userDirectory) ListAll() []domain.User {
	return d.store.All()
}

func (d *userDirectory) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isBcryptHash(value string) bool {
	if len(value) != 60 {
		return false
	}
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

var _ domain.UserDirectory = (*userDirectory)(nil)
