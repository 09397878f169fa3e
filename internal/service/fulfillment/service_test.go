package fulfillment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/snapshot"
)

func TestPurchase_SingleSeller(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 5, domain.MustParseMoney("10.0"))

	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, consumer.ID(), order.ConsumerID)
	assert.Equal(t, seller.ID(), order.SellerID)
	assert.Equal(t, map[int]int{p.ID: 3}, order.Products)
	assert.True(t, order.Total.Equal(domain.MoneyFromInt(30)), "total %s", order.Total)
	assert.True(t, order.ShippingCost.Equal(domain.Zero))
	assert.Equal(t, domain.OrderStatusPlaced, order.Status)
	assert.Equal(t, domain.PaymentMethodCreditCard, order.PaymentMethod)
	assert.Equal(t, "Rua do Consumidor, 10", order.ShippingAddress)
	assert.Equal(t, "Av. do Vendedor, 20", order.SendersAddress)
	assert.Equal(t, fixedNow, order.Timestamp)

	assert.Equal(t, 2, f.stock(t, p.ID))

	stored, err := f.orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Products, stored.Products)
}

func TestPurchase_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 2, domain.MoneyFromInt(10))

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: p.ID, Quantity: 10}},
	})

	stockErr, ok := domain.AsInsufficientStock(err)
	require.True(t, ok, "expected InsufficientStockError, got %v", err)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 10, stockErr.Requested)
	assert.Equal(t, p.ID, stockErr.ProductID)

	assert.Equal(t, 2, f.stock(t, p.ID))
	assert.Empty(t, f.orders.ListAll())
}

func TestPurchase_MultiSellerCreatesOneOrderPerSeller(t *testing.T) {
	f := newFixture(t)
	consumer := f.consumer(t, "c@example.com")
	s1 := f.seller(t, "s1@example.com")
	s2 := f.seller(t, "s2@example.com")
	a := f.product(t, s1.ID(), 5, domain.MoneyFromInt(10))
	b := f.product(t, s2.ID(), 5, domain.MustParseMoney("2.5"))
	c := f.product(t, s1.ID(), 5, domain.MoneyFromInt(1))

	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: b.ID, Quantity: 2},
			{ProductID: a.ID, Quantity: 1},
			{ProductID: c.ID, Quantity: 4},
		},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	bySeller := map[int]domain.Order{}
	union := map[int]int{}
	for _, o := range orders {
		bySeller[o.SellerID] = o
		for id, qty := range o.Products {
			union[id] += qty
		}
	}

	assert.Equal(t, map[int]int{a.ID: 1, b.ID: 2, c.ID: 4}, union)
	assert.Equal(t, map[int]int{a.ID: 1, c.ID: 4}, bySeller[s1.ID()].Products)
	assert.True(t, bySeller[s1.ID()].Total.Equal(domain.MoneyFromInt(14)))
	assert.True(t, bySeller[s2.ID()].Total.Equal(domain.MoneyFromInt(5)))
	assert.Len(t, f.orders.ListByConsumer(consumer.ID()), 2)
}

func TestPurchase_MissingProductIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 5, domain.MoneyFromInt(10))

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: p.ID, Quantity: 1},
			{ProductID: 999, Quantity: 1},
		},
	})

	var notFound *domain.NotFoundError
	require.True(t, errors.As(err, &notFound), "expected NotFoundError, got %v", err)
	assert.Equal(t, domain.EntityProduct, notFound.Entity)
	assert.Equal(t, 999, notFound.ID)
	assert.Equal(t, 5, f.stock(t, p.ID))
	assert.Empty(t, f.orders.ListAll())
}

func TestPurchase_GroupRollbackOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	first := f.product(t, seller.ID(), 5, domain.MoneyFromInt(10))
	second := f.product(t, seller.ID(), 1, domain.MoneyFromInt(10))

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: first.ID, Quantity: 2},
			{ProductID: second.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, f.stock(t, first.ID), "earlier item in the group must be restocked")
	assert.Equal(t, 1, f.stock(t, second.ID))
	assert.Empty(t, f.orders.ListAll())
}

func TestPurchase_RollbackSpansSellerGroups(t *testing.T) {
	f := newFixture(t)
	consumer := f.consumer(t, "c@example.com")
	s1 := f.seller(t, "s1@example.com")
	s2 := f.seller(t, "s2@example.com")
	ok := f.product(t, s1.ID(), 5, domain.MoneyFromInt(10))
	short := f.product(t, s2.ID(), 0, domain.MoneyFromInt(10))

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: ok.ID, Quantity: 5},
			{ProductID: short.ID, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock(t, ok.ID))
	assert.Empty(t, f.orders.ListAll())
}

func TestPurchase_ValidatesRequest(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 5, domain.MoneyFromInt(10))

	cases := []struct {
		name string
		req  fulfillment.PurchaseRequest
		want error
	}{
		{
			name: "empty",
			req:  fulfillment.PurchaseRequest{ConsumerID: consumer.ID()},
			want: domain.ErrEmptyRequest,
		},
		{
			name: "zero quantity",
			req: fulfillment.PurchaseRequest{ConsumerID: consumer.ID(), Items: []fulfillment.PurchaseItem{
				{ProductID: p.ID, Quantity: 0},
			}},
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "negative quantity",
			req: fulfillment.PurchaseRequest{ConsumerID: consumer.ID(), Items: []fulfillment.PurchaseItem{
				{ProductID: p.ID, Quantity: 1},
				{ProductID: p.ID, Quantity: -1},
			}},
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "missing consumer",
			req: fulfillment.PurchaseRequest{ConsumerID: 404, Items: []fulfillment.PurchaseItem{
				{ProductID: p.ID, Quantity: 1},
			}},
			want: domain.ErrNotAConsumer,
		},
		{
			name: "seller as consumer",
			req: fulfillment.PurchaseRequest{ConsumerID: seller.ID(), Items: []fulfillment.PurchaseItem{
				{ProductID: p.ID, Quantity: 1},
			}},
			want: domain.ErrNotAConsumer,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Purchase(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 5, f.stock(t, p.ID))
			assert.Empty(t, f.orders.ListAll())
		})
	}
}

func TestPurchase_MissingConsumerIsAlsoNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: 7,
		Items:      []fulfillment.PurchaseItem{{ProductID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrNotAConsumer)
	require.True(t, domain.IsNotFound(err))
}

func TestPurchase_ProductOwnerMustBeSeller(t *testing.T) {
	f := newFixture(t)
	consumer := f.consumer(t, "c@example.com")
	other := f.consumer(t, "other@example.com")
	p := f.product(t, other.ID(), 5, domain.MoneyFromInt(10))
	orphan := f.product(t, 77, 5, domain.MoneyFromInt(10))

	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: p.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrNotASeller)

	_, err = f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: orphan.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrNotASeller)
	require.True(t, domain.IsNotFound(err))

	assert.Equal(t, 5, f.stock(t, p.ID))
	assert.Equal(t, 5, f.stock(t, orphan.ID))
}

func TestPurchase_DuplicateItemsAreMerged(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 5, domain.MoneyFromInt(3))

	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: p.ID, Quantity: 2},
			{ProductID: p.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, map[int]int{p.ID: 4}, orders[0].Products)
	assert.True(t, orders[0].Total.Equal(domain.MoneyFromInt(12)))
	assert.Equal(t, 1, f.stock(t, p.ID))
}

func TestPurchase_OrderPersistFailureRestocks(t *testing.T) {
	ordersBackend := &failingOrders{inner: snapshot.NewMemoryBackend("orders")}
	factory := func(collection string) snapshot.Backend {
		if collection == snapshot.CollectionOrders {
			return ordersBackend
		}
		return snapshot.NewMemoryBackend(collection)
	}

	f := newFixtureWithBackends(t, factory)
	consumer := f.consumer(t, "c@example.com")
	s1 := f.seller(t, "s1@example.com")
	s2 := f.seller(t, "s2@example.com")
	a := f.product(t, s1.ID(), 5, domain.MoneyFromInt(10))
	b := f.product(t, s2.ID(), 5, domain.MoneyFromInt(10))

	ordersBackend.fail = true
	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, domain.ErrPersist)
	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, b.ID))
	assert.Empty(t, f.orders.ListAll())

	ordersBackend.fail = false
	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: a.ID, Quantity: 1}},
	})
	require.NoError(t, err, "store must stay usable after a failed persist")
	require.Len(t, orders, 1)
}

func TestPurchase_RestockFailureIsReturned(t *testing.T) {
	productsBackend := &budgetBackend{inner: snapshot.NewMemoryBackend("products")}
	f := newFixtureWithBackends(t, singleBackend(snapshot.CollectionProducts, productsBackend))
	consumer := f.consumer(t, "c@example.com")
	seller := f.seller(t, "s@example.com")
	a := f.product(t, seller.ID(), 5, domain.MoneyFromInt(10))
	b := f.product(t, seller.ID(), 1, domain.MoneyFromInt(10))

	// Списание a проходит, b не хватает, возврат a уже не записывается.
	productsBackend.arm(1)
	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.ErrorIs(t, err, domain.ErrPersist)
	assert.Contains(t, err.Error(), fmt.Sprintf("restock product %d by 1", a.ID))

	assert.Equal(t, 4, f.stock(t, a.ID))
	assert.Empty(t, f.orders.ListAll())
}

func TestPurchase_OrderDeleteFailureIsReturned(t *testing.T) {
	ordersBackend := &budgetBackend{inner: snapshot.NewMemoryBackend("orders")}
	f := newFixtureWithBackends(t, singleBackend(snapshot.CollectionOrders, ordersBackend))
	consumer := f.consumer(t, "c@example.com")
	s1 := f.seller(t, "s1@example.com")
	s2 := f.seller(t, "s2@example.com")
	a := f.product(t, s1.ID(), 5, domain.MoneyFromInt(10))
	b := f.product(t, s2.ID(), 5, domain.MoneyFromInt(10))

	// Первый заказ записывается, второй и удаление первого при откате нет.
	ordersBackend.arm(1)
	_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, domain.ErrPersist)
	assert.Contains(t, err.Error(), "rollback: delete order 1")
	assert.NotContains(t, err.Error(), "restock product")

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, b.ID))
	assert.Len(t, f.orders.ListAll(), 1)
}

func TestPurchase_EnqueuesOrderPlacedEvents(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	f := newFixture(t, fulfillment.WithOutbox(outbox))
	consumer := f.consumer(t, "c@example.com")
	s1 := f.seller(t, "s1@example.com")
	s2 := f.seller(t, "s2@example.com")
	a := f.product(t, s1.ID(), 5, domain.MoneyFromInt(10))
	b := f.product(t, s2.ID(), 5, domain.MoneyFromInt(10))

	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items: []fulfillment.PurchaseItem{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	pending := outbox.AllPending()
	require.Len(t, pending, len(orders))
	for _, msg := range pending {
		assert.Equal(t, domain.EventTypeOrderPlaced, msg.EventType)
		assert.Equal(t, domain.AggregateTypeOrder, msg.AggregateType)
	}
}

func TestPurchase_OutboxFailureKeepsOrders(t *testing.T) {
	f := newFixture(t, fulfillment.WithOutbox(failingOutbox{}))
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 5, domain.MoneyFromInt(10))

	orders, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
		ConsumerID: consumer.ID(),
		Items:      []fulfillment.PurchaseItem{{ProductID: p.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestPurchase_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Purchase(ctx, fulfillment.PurchaseRequest{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPurchase_ConcurrentBuyersNeverOversell(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, fulfillment.WithMetrics(metrics.NewPurchaseMetricsWithRegisterer(reg)))
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	p := f.product(t, seller.ID(), 10, domain.MoneyFromInt(1))

	const buyers = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		outOfStk  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
				ConsumerID: consumer.ID(),
				Items:      []fulfillment.PurchaseItem{{ProductID: p.ID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStk++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, buyers-10, outOfStk)
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Len(t, f.orders.ListAll(), 10)
}

func TestPurchase_OverlappingProductSetsDoNotDeadlock(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "s@example.com")
	consumer := f.consumer(t, "c@example.com")
	a := f.product(t, seller.ID(), 100, domain.MoneyFromInt(1))
	b := f.product(t, seller.ID(), 100, domain.MoneyFromInt(1))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		items := []fulfillment.PurchaseItem{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Purchase(context.Background(), fulfillment.PurchaseRequest{
				ConsumerID: consumer.ID(),
				Items:      items,
			}); err != nil {
				t.Errorf("purchase: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, f.stock(t, a.ID))
	assert.Equal(t, 50, f.stock(t, b.ID))
}
