package snapshot

import (
	"path/filepath"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Имена коллекций.
const (
	CollectionProducts = "products"
	CollectionUsers    = "users"
	CollectionOrders   = "orders"
)

// BackendFactory создаёт backend для коллекции.
type BackendFactory func(collection string) Backend

// FileBackends хранит каждую коллекцию в dir/<collection>.json.
func FileBackends(dir string) BackendFactory {
	return func(collection string) Backend {
		return NewFileBackend(filepath.Join(dir, collection+".json"))
	}
}

// MemoryBackends держит коллекции в памяти процесса.
func MemoryBackends() BackendFactory {
	return func(collection string) Backend {
		return NewMemoryBackend(collection)
	}
}

// Ledgers объединяет три коллекции ядра.
type Ledgers struct {
	Products domain.ProductLedger
	Users    domain.UserDirectory
	Orders   domain.OrderLedger
}

// OpenLedgers загружает товары, пользователей и заказы.
func OpenLedgers(factory BackendFactory, userOpts []UserDirectoryOption, opts ...Option) (Ledgers, error) {
	products, err := Open[domain.Product](CollectionProducts, factory(CollectionProducts), opts...)
	if err != nil {
		return Ledgers{}, err
	}
	users, err := Open[domain.User](CollectionUsers, factory(CollectionUsers), opts...)
	if err != nil {
		return Ledgers{}, err
	}
	orders, err := Open[domain.Order](CollectionOrders, factory(CollectionOrders), opts...)
	if err != nil {
		return Ledgers{}, err
	}

	return Ledgers{
		Products: NewProductLedger(products),
		Users:    NewUserDirectory(users, userOpts...),
		Orders:   NewOrderLedger(orders),
	}, nil
}
