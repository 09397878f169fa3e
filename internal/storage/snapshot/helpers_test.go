package snapshot_test

import (
	"errors"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/snapshot"
)

var errDiskFull = errors.New("disk full")

// flakyBackend хранит снапшот в памяти и отказывает в записи, пока failing=true.
type flakyBackend struct {
	mu      sync.Mutex
	data    []byte
	failing bool
	saves   int
}

func (b *flakyBackend) Load() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...), nil
}

func (b *flakyBackend) Save(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errDiskFull
	}
	b.saves++
	b.data = append([]byte(nil), data...)
	return nil
}

func (b *flakyBackend) Name() string { return "flaky" }

func (b *flakyBackend) setFailing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = v
}

func (b *flakyBackend) snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

var _ snapshot.Backend = (*flakyBackend)(nil)

func newProduct(title string, sellerID, stock int) domain.Product {
	return domain.Product{
		Title:    title,
		Price:    domain.MoneyFromInt(10),
		Stock:    stock,
		SellerID: sellerID,
	}
}
