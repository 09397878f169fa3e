package fulfillment

import (
	"slices"
	"sync"
)

// LockTable выдаёт мьютекс на каждый ID товара. Записи живут, пока на них есть ссылки.
type LockTable struct {
	mu      sync.Mutex
	entries map[int]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLockTable создаёт пустую таблицу блокировок.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[int]*lockEntry)}
}

// Lock захватывает блокировки товаров по возрастанию ID и возвращает функцию освобождения.
// Повторы в ids игнорируются.
func (t *LockTable) Lock(ids ...int) (unlock func()) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*lockEntry, 0, len(sorted))
	for _, id := range sorted {
		entry := t.acquire(id)
		entry.mu.Lock()
		held = append(held, entry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				t.release(sorted[i])
			}
		})
	}
}

// Size возвращает число живых записей таблицы.
func (t *LockTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *LockTable) acquire(id int) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		entry = &lockEntry{}
		t.entries[id] = entry
	}
	entry.refs++
	return entry
}

func (t *LockTable) release(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, id)
	}
}
