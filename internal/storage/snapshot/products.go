package snapshot

import (
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productLedger struct {
	store *Store[domain.Product]
}

// NewProductLedger создаёт ProductLedger поверх коллекции товаров.
func NewProductLedger(store *Store[domain.Product]) domain.ProductLedger {
	return &productLedger{store: store}
}

func (l *productLedger) GetByID(id int) (domain.Product, error) {
	product, ok := l.store.Get(id)
	if !ok {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, id)
	}
	return product, nil
}

func (l *productLedger) ListAll() []domain.Product {
	return l.store.All()
}

func (l *productLedger) ListBySeller(sellerID int) []domain.Product {
	return l.store.Find(func(p domain.Product) bool {
		return p.SellerID == sellerID
	})
}

func (l *productLedger) Create(product domain.Product) (domain.Product, error) {
	product.ID = 0
	product.Tags = domain.NewTags(product.Tags...)
	if err := domain.NewValidationError(domain.EntityProduct, product.ValidateInvariants()); err != nil {
		return domain.Product{}, err
	}
	return l.store.Insert(product)
}

func (l *productLedger) Replace(id int, updated domain.Product) (domain.Product, error) {
	product, found, err := l.store.Mutate(id, func(current domain.Product) (domain.Product, error) {
		updated.SellerID = current.SellerID
		updated.Tags = domain.NewTags(updated.Tags...)
		if err := domain.NewValidationError(domain.EntityProduct, updated.ValidateInvariants()); err != nil {
			return domain.Product{}, err
		}
		return updated, nil
	})
	if !found {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (l *productLedger) Delete(id int) error {
	found, err := l.store.DeleteByID(id)
	if !found {
		return domain.NewNotFound(domain.EntityProduct, id)
	}
	return err
}

// ReserveAndDecrement проверяет остаток и списывает qty под одной блокировкой коллекции.
func (l *productLedger) ReserveAndDecrement(id, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrInvalidQuantity)
	}

	product, found, err := l.store.Mutate(id, func(current domain.Product) (domain.Product, error) {
		if current.Stock < qty {
			return domain.Product{}, &domain.InsufficientStockError{
				ProductID: id,
				Available: current.Stock,
				Requested: qty,
			}
		}
		current.Stock -= qty
		return current, nil
	})
	if !found {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (l *productLedger) Restock(id, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrInvalidQuantity)
	}

	product, found, err := l.store.Mutate(id, func(current domain.Product) (domain.Product, error) {
		current.Stock += qty
		return current, nil
	})
	if !found {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (l *productLedger) IsOwnedBy(productID, sellerID int) (bool, error) {
	product, err := l.GetByID(productID)
	if err != nil {
		return false, err
	}
	return product.OwnedBy(sellerID), nil
}

var _ domain.ProductLedger = (*productLedger)(nil)
