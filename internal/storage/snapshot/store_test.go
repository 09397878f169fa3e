package snapshot_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/snapshot"
)

func TestStore_InsertAssignsSequentialIDs(t *testing.T) {
	store, err := snapshot.Open[domain.Product]("products", snapshot.NewMemoryBackend("products"))
	require.NoError(t, err)

	if got := store.NextID(); got != 1 {
		t.Fatalf("expected next id 1 for empty store, got %d", got)
	}

	first, err := store.Insert(newProduct("a", 1, 1))
	require.NoError(t, err)
	second, err := store.Insert(newProduct("b", 1, 1))
	require.NoError(t, err)

	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first.ID, second.ID)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 entities, got %d", store.Len())
	}
}

func TestStore_IDsAreNotReusedAfterDelete(t *testing.T) {
	store, err := snapshot.Open[domain.Product]("products", snapshot.NewMemoryBackend("products"))
	require.NoError(t, err)

	_, err = store.Insert(newProduct("a", 1, 1))
	require.NoError(t, err)
	last, err := store.Insert(newProduct("b", 1, 1))
	require.NoError(t, err)

	found, err := store.DeleteByID(last.ID)
	require.NoError(t, err)
	require.True(t, found)

	next, err := store.Insert(newProduct("c", 1, 1))
	require.NoError(t, err)
	if next.ID != 3 {
		t.Fatalf("expected id 3 after deleting the max id, got %d", next.ID)
	}
}

func TestStore_RoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "products.json")
	backend := snapshot.NewFileBackend(path)

	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	p := newProduct("Panela", 7, 3)
	p.Tags = domain.NewTags("casa", "cozinha")
	created, err := store.Insert(p)
	require.NoError(t, err)

	reopened, err := snapshot.Open[domain.Product]("products", snapshot.NewFileBackend(path))
	require.NoError(t, err)

	got, ok := reopened.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, created.Title, got.Title)
	require.Equal(t, created.Tags, got.Tags)
	require.True(t, created.Price.Equal(got.Price))
	require.Equal(t, 3, got.Stock)
}

func TestStore_FileBackendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.json")

	stale := filepath.Join(dir, "orders.json.tmp-123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	store, err := snapshot.Open[domain.Product]("orders", snapshot.NewFileBackend(path))
	require.NoError(t, err)
	_, err = store.Insert(newProduct("a", 1, 1))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	if len(entries) != 1 || entries[0].Name() != "orders.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only orders.json, got %v", names)
	}
}

func TestStore_MissingFileMeansEmptyCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := snapshot.Open[domain.User]("users", snapshot.NewFileBackend(path))
	require.NoError(t, err)
	require.Equal(t, 0, store.Len())
}

func TestStore_CorruptSnapshotIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 1, "title": `), 0o644))

	_, err := snapshot.Open[domain.Product]("products", snapshot.NewFileBackend(path))
	if !errors.Is(err, domain.ErrSnapshotCorrupted) {
		t.Fatalf("expected ErrSnapshotCorrupted, got %v", err)
	}
}

func TestStore_RepairsZeroAndDuplicateIDs(t *testing.T) {
	backend := &flakyBackend{data: []byte(`[
		{"id": 5, "title": "a", "price": 1, "stock": 1, "sellerId": 1},
		{"id": 0, "title": "b", "price": 1, "stock": 1, "sellerId": 1},
		{"id": 5, "title": "c", "price": 1, "stock": 1, "sellerId": 1}
	]`)}

	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	all := store.All()
	require.Len(t, all, 3)
	require.Equal(t, 5, all[0].ID)
	require.Equal(t, 6, all[1].ID)
	require.Equal(t, 7, all[2].ID)
	require.Equal(t, 1, backend.saves, "repaired snapshot must be persisted")
}

func TestStore_PersistFailureRollsBackInsert(t *testing.T) {
	backend := &flakyBackend{}
	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	_, err = store.Insert(newProduct("a", 1, 1))
	require.NoError(t, err)
	before := backend.snapshot()

	backend.setFailing(true)
	_, err = store.Insert(newProduct("b", 1, 1))
	if !errors.Is(err, domain.ErrPersist) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected ErrPersist wrapping disk error, got %v", err)
	}

	require.Equal(t, 1, store.Len())
	require.Equal(t, before, backend.snapshot())
}

func TestStore_PersistFailureRollsBackMutateAndDelete(t *testing.T) {
	backend := &flakyBackend{}
	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	created, err := store.Insert(newProduct("a", 1, 5))
	require.NoError(t, err)

	backend.setFailing(true)

	_, found, err := store.Mutate(created.ID, func(p domain.Product) (domain.Product, error) {
		p.Stock = 0
		return p, nil
	})
	require.True(t, found)
	require.ErrorIs(t, err, domain.ErrPersist)

	found, err = store.DeleteByID(created.ID)
	require.True(t, found)
	require.ErrorIs(t, err, domain.ErrPersist)

	got, ok := store.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, 5, got.Stock)
}

func TestStore_MutateCallbackErrorSkipsPersist(t *testing.T) {
	backend := &flakyBackend{}
	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	created, err := store.Insert(newProduct("a", 1, 5))
	require.NoError(t, err)
	saves := backend.saves

	boom := errors.New("boom")
	_, _, err = store.Mutate(created.ID, func(p domain.Product) (domain.Product, error) {
		return p, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, saves, backend.saves)
}

func TestStore_UpdateAbsentIsNoop(t *testing.T) {
	backend := &flakyBackend{}
	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	_, err = store.Insert(newProduct("a", 1, 5))
	require.NoError(t, err)
	saves := backend.saves
	before := backend.snapshot()

	ghost := newProduct("ghost", 1, 9)
	ghost.ID = 42
	found, err := store.Update(ghost)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, saves, backend.saves)
	require.Equal(t, before, backend.snapshot())
	require.Equal(t, 1, store.Len())

	_, ok := store.Get(42)
	require.False(t, ok)
}

func TestStore_UpdateExistingPersists(t *testing.T) {
	backend := &flakyBackend{}
	store, err := snapshot.Open[domain.Product]("products", backend)
	require.NoError(t, err)

	created, err := store.Insert(newProduct("a", 1, 5))
	require.NoError(t, err)
	saves := backend.saves

	created.Title = "renamed"
	created.Stock = 2
	found, err := store.Update(created)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, saves+1, backend.saves)
	require.Contains(t, backend.snapshot(), "renamed")

	got, ok := store.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, 2, got.Stock)

	backend.setFailing(true)
	created.Title = "lost"
	found, err = store.Update(created)
	require.ErrorIs(t, err, errDiskFull)
	require.True(t, found)

	got, _ = store.Get(created.ID)
	require.Equal(t, "renamed", got.Title)
}

func TestStore_GetReturnsIsolatedCopy(t *testing.T) {
	store, err := snapshot.Open[domain.Order]("orders", snapshot.NewMemoryBackend("orders"))
	require.NoError(t, err)

	created, err := store.Insert(domain.Order{ConsumerID: 1, SellerID: 2, Products: map[int]int{1: 1}})
	require.NoError(t, err)

	got, _ := store.Get(created.ID)
	got.Products[1] = 99

	again, _ := store.Get(created.ID)
	require.Equal(t, 1, again.Products[1])
}

func TestStore_ConcurrentInsertsProduceUniqueIDs(t *testing.T) {
	store, err := snapshot.Open[domain.Product]("products", snapshot.NewMemoryBackend("products"))
	require.NoError(t, err)

	const workers = 32
	ids := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := store.Insert(newProduct("p", 1, 1))
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool, workers)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	require.Len(t, seen, workers)
}

func TestLoadAll_EmptyData(t *testing.T) {
	items, err := snapshot.LoadAll[domain.Order](snapshot.NewMemoryBackend("orders"))
	require.NoError(t, err)
	require.Empty(t, items)
}
