package snapshot

import "sync"

// Backend хранит сериализованный снапшот одной коллекции.
type Backend interface {
	// Load возвращает nil без ошибки, если снапшота ещё нет.
	Load() ([]byte, error)
	// Save атомарно заменяет снапшот целиком.
	Save(data []byte) error
	// Name используется в логах и сообщениях об ошибках.
	Name() string
}

// MemoryBackend держит снапшот в памяти процесса.
type MemoryBackend struct {
	mu   sync.RWMutex
	name string
	data []byte
}

// NewMemoryBackend создаёт пустой in-memory backend.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{name: name}
}

func (b *MemoryBackend) Load() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.data == nil {
		return nil, nil
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Save(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Name() string { return "memory:" + b.name }

var _ Backend = (*MemoryBackend)(nil)
