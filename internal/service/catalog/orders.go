package catalog

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// OrderProductDetail — позиция заказа в представлении покупателя.
type OrderProductDetail struct {
	ProductID int    `json:"productId"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"imageUrl"`
}

// OrderSummary — заказ в списке покупателя.
type OrderSummary struct {
	ID              int                  `json:"id"`
	ConsumerID      int                  `json:"consumerId"`
	SellerID        int                  `json:"sellerId"`
	ProductsDetails []OrderProductDetail `json:"productsDetails"`
	ItemCount       int                  `json:"itemCount"`
	ShippingAddress string               `json:"shippingAddress"`
	TotalAmount     domain.Money         `json:"totalAmount"`
	ShippingCost    domain.Money         `json:"shippingCost"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	Status          domain.OrderStatus   `json:"status"`
	Timestamp       time.Time            `json:"timestamp"`
}

// SellerOrderItem — позиция заказа в представлении продавца.
type SellerOrderItem struct {
	ProductID    int          `json:"productId"`
	Title        string       `json:"title"`
	Quantity     int          `json:"quantity"`
	CurrentPrice domain.Money `json:"currentPrice"`
}

// SellerOrder — заказ в списке продавца.
type SellerOrder struct {
	OrderID    int                `json:"orderId"`
	ConsumerID int                `json:"consumerId"`
	Timestamp  time.Time          `json:"timestamp"`
	Status     domain.OrderStatus `json:"status"`
	Total      domain.Money       `json:"total"`
	Items      []SellerOrderItem  `json:"sellerItems"`
}

// unknownProductTitle подставляется для удалённых после покупки товаров.
const unknownProductTitle = "Unknown product (ID: %d)"

// ListOrders возвращает все заказы.
func (s *Service) ListOrders() []domain.Order {
	return s.orders.ListAll()
}

// GetOrder возвращает заказ по ID.
func (s *Service) GetOrder(id int) (domain.Order, error) {
	return s.orders.GetByID(id)
}

// ConsumerOrders строит сводки заказов покупателя с деталями товаров.
func (s *Service) ConsumerOrders(consumerID int) ([]OrderSummary, error) {
	if _, err := s.consumer(consumerID); err != nil {
		return nil, err
	}

	orders := s.orders.ListByConsumer(consumerID)
	summaries := make([]OrderSummary, 0, len(orders))
	for _, order := range orders {
		details := make([]OrderProductDetail, 0, len(order.Products))
		for _, productID := range sortedProductIDs(order) {
			detail := OrderProductDetail{ProductID: productID, Quantity: order.Products[productID]}
			if product, err := s.products.GetByID(productID); err == nil {
				detail.Title = product.Title
				detail.ImageURL = product.ImageURL
			} else {
				detail.Title = fmt.Sprintf(unknownProductTitle, productID)
			}
			details = append(details, detail)
		}

		summaries = append(summaries, OrderSummary{
			ID:              order.ID,
			ConsumerID:      order.ConsumerID,
			SellerID:        order.SellerID,
			ProductsDetails: details,
			ItemCount:       order.ItemCount(),
			ShippingAddress: order.ShippingAddress,
			TotalAmount:     order.Total,
			ShippingCost:    order.ShippingCost,
			PaymentMethod:   order.PaymentMethod,
			Status:          order.Status,
			Timestamp:       order.Timestamp,
		})
	}
	return summaries, nil
}

// SellerOrders строит представление заказов продавца.
// Total берётся из заказа, то есть по ценам на момент покупки.
func (s *Service) SellerOrders(sellerID int) ([]SellerOrder, error) {
	if _, err := s.seller(sellerID); err != nil {
		return nil, err
	}

	orders := s.orders.ListBySeller(sellerID)
	result := make([]SellerOrder, 0, len(orders))
	for _, order := range orders {
		items := make([]SellerOrderItem, 0, len(order.Products))
		for _, productID := range sortedProductIDs(order) {
			item := SellerOrderItem{ProductID: productID, Quantity: order.Products[productID]}
			if product, err := s.products.GetByID(productID); err == nil {
				item.Title = product.Title
				item.CurrentPrice = product.Price
			} else {
				item.Title = fmt.Sprintf(unknownProductTitle, productID)
			}
			items = append(items, item)
		}

		result = append(result, SellerOrder{
			OrderID:    order.ID,
			ConsumerID: order.ConsumerID,
			Timestamp:  order.Timestamp,
			Status:     order.Status,
			Total:      order.Total,
			Items:      items,
		})
	}
	return result, nil
}

func sortedProductIDs(order domain.Order) []int {
	return slices.Sorted(maps.Keys(order.Products))
}
