package catalog

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// ListProducts возвращает весь каталог.
func (s *Service) ListProducts() []domain.Product {
	return s.products.ListAll()
}

// GetProduct возвращает товар по ID.
func (s *Service) GetProduct(id int) (domain.Product, error) {
	return s.products.GetByID(id)
}

// ListSellerProducts возвращает товары продавца.
func (s *Service) ListSellerProducts(sellerID int) ([]domain.Product, error) {
	if _, err := s.seller(sellerID); err != nil {
		return nil, err
	}
	return s.products.ListBySeller(sellerID), nil
}

// CreateProduct добавляет товар от имени продавца actorID; SellerID из тела игнорируется.
func (s *Service) CreateProduct(actorID int, product domain.Product) (domain.Product, error) {
	if _, err := s.seller(actorID); err != nil {
		return domain.Product{}, err
	}
	product.SellerID = actorID

	created, err := s.products.Create(product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"operation":  "create_product",
		"product_id": created.ID,
		"seller_id":  actorID,
	}).Info("Product created")
	return created, nil
}

// ReplaceProduct заменяет поля товара; менять товар может только его продавец.
func (s *Service) ReplaceProduct(actorID, productID int, updated domain.Product) (domain.Product, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	if err := s.authorize(actorID, productID); err != nil {
		return domain.Product{}, err
	}
	product, err := s.products.Replace(productID, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"operation":  "replace_product",
		"product_id": productID,
		"seller_id":  actorID,
	}).Info("Product replaced")
	return product, nil
}

// DeleteProduct удаляет товар продавца actorID.
func (s *Service) DeleteProduct(actorID, productID int) error {
	unlock := s.locks.Lock(productID)
	defer unlock()

	if err := s.authorize(actorID, productID); err != nil {
		return err
	}
	if err := s.products.Delete(productID); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"operation":  "delete_product",
		"product_id": productID,
		"seller_id":  actorID,
	}).Info("Product deleted")
	return nil
}

// IsOwnedBy сообщает, принадлежит ли товар продавцу.
func (s *Service) IsOwnedBy(productID, sellerID int) (bool, error) {
	return s.products.IsOwnedBy(productID, sellerID)
}

// authorize проверяет, что actorID является продавцом и владельцем товара.
func (s *Service) authorize(actorID, productID int) error {
	if _, err := s.seller(actorID); err != nil {
		return err
	}
	owned, err := s.products.IsOwnedBy(productID, actorID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("seller %d does not own product %d: %w", actorID, productID, domain.ErrUnauthorized)
	}
	return nil
}
