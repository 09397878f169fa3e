package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Entity — запись коллекции с целочисленным идентификатором.
// Clone должен возвращать копию, не разделяющую карты и срезы с оригиналом.
type Entity[T any] interface {
	EntityID() int
	WithEntityID(id int) T
	Clone() T
}

// PersistObserver получает результат каждой записи снапшота.
type PersistObserver interface {
	ObservePersist(collection string, size int, duration time.Duration, err error)
	ObserveRepair(collection string, repaired int)
}

type options struct {
	logger   *log.Entry
	observer PersistObserver
}

// Option настраивает Store.
type Option func(*options)

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver задаёт получателя метрик записи.
func WithObserver(observer PersistObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// Store — коллекция сущностей в памяти, целиком сохраняемая в Backend после каждой мутации.
// Мутация сначала строит новую версию коллекции, сохраняет её и только потом публикует.
// При ошибке записи состояние в памяти остаётся прежним.
type Store[T Entity[T]] struct {
	mu        sync.RWMutex
	name      string
	backend   Backend
	logger    *log.Entry
	observer  PersistObserver
	items     []T
	index     map[int]int
	highWater int
}

// Open загружает снапшот коллекции name и чинит нулевые и повторяющиеся идентификаторы.
func Open[T Entity[T]](name string, backend Backend, opts ...Option) (*Store[T], error) {
	cfg := options{logger: log.WithField("component", "snapshot-store")}
	for _, opt := range opts {
		opt(&cfg)
	}

	items, err := LoadAll[T](backend)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	s := &Store[T]{
		name:     name,
		backend:  backend,
		logger:   cfg.logger.WithField("collection", name),
		observer: cfg.observer,
	}

	repaired := repairIDs(items)
	s.commit(items)
	s.highWater = maxID(items)

	if repaired > 0 {
		s.logger.WithFields(log.Fields{
			"repaired": repaired,
			"backend":  backend.Name(),
		}).Warn("reassigned missing or duplicate ids")
		if s.observer != nil {
			s.observer.ObserveRepair(name, repaired)
		}
		if err := s.persist(items); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// LoadAll читает снапшот без ремонта идентификаторов.
// Пустой или отсутствующий снапшот означает пустую коллекцию.
func LoadAll[T Entity[T]](backend Backend) ([]T, error) {
	data, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSnapshotCorrupted, backend.Name(), err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Name возвращает имя коллекции.
func (s *Store[T]) Name() string { return s.name }

// Len возвращает число сущностей.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// NextID возвращает идентификатор, который получит следующая вставка.
func (s *Store[T]) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIDLocked()
}

// Get возвращает копию сущности.
func (s *Store[T]) Get(id int) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[pos].Clone(), true
}

// All возвращает копии всех сущностей в порядке вставки.
func (s *Store[T]) All() []T {
	return s.Find(nil)
}

// Find возвращает копии сущностей, для которых match вернул true; nil выбирает все.
func (s *Store[T]) Find(match func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		if match != nil && !match(item) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

// Insert сохраняет сущность. Нулевой ID заменяется следующим свободным,
// существующий ID заменяет запись на месте.
func (s *Store[T]) Insert(entity T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.EntityID() <= 0 {
		entity = entity.WithEntityID(s.nextIDLocked())
	}
	entity = entity.Clone()

	next := s.snapshotLocked()
	if pos, ok := s.index[entity.EntityID()]; ok {
		next[pos] = entity
	} else {
		next = append(next, entity)
	}

	if err := s.persist(next); err != nil {
		var zero T
		return zero, err
	}
	s.commit(next)
	if id := entity.EntityID(); id > s.highWater {
		s.highWater = id
	}
	return entity.Clone(), nil
}

// Update заменяет существующую сущность; false, если её нет.
func (s *Store[T]) Update(entity T) (bool, error) {
	_, found, err := s.Mutate(entity.EntityID(), func(T) (T, error) {
		return entity, nil
	})
	return found, err
}

// Mutate применяет fn к копии сущности id под эксклюзивной блокировкой коллекции.
// Ошибка fn прерывает мутацию без записи. ID результата всегда равен id.
func (s *Store[T]) Mutate(id int, fn func(current T) (T, error)) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	pos, ok := s.index[id]
	if !ok {
		return zero, false, nil
	}

	updated, err := fn(s.items[pos].Clone())
	if err != nil {
		return zero, true, err
	}
	updated = updated.WithEntityID(id).Clone()

	next := s.snapshotLocked()
	next[pos] = updated
	if err := s.persist(next); err != nil {
		return zero, true, err
	}
	s.commit(next)
	return updated.Clone(), true, nil
}

// DeleteByID удаляет сущность; false, если её нет.
func (s *Store[T]) DeleteByID(id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return false, nil
	}

	next := make([]T, 0, len(s.items)-1)
	next = append(next, s.items[:pos]...)
	next = append(next, s.items[pos+1:]...)

	if err := s.persist(next); err != nil {
		return true, err
	}
	s.commit(next)
	return true, nil
}

// nextIDLocked — max(ID)+1 с учётом уже выданных в этом процессе идентификаторов.
func (s *Store[T]) nextIDLocked() int {
	return max(maxID(s.items), s.highWater) + 1
}

func (s *Store[T]) snapshotLocked() []T {
	next := make([]T, len(s.items), len(s.items)+1)
	copy(next, s.items)
	return next
}

func (s *Store[T]) commit(items []T) {
	index := make(map[int]int, len(items))
	for pos, item := range items {
		index[item.EntityID()] = pos
	}
	s.items = items
	s.index = index
}

func (s *Store[T]) persist(items []T) error {
	started := time.Now()
	err := s.write(items)
	if s.observer != nil {
		s.observer.ObservePersist(s.name, len(items), time.Since(started), err)
	}
	if err != nil {
		s.logger.WithError(err).WithField("backend", s.backend.Name()).Error("persist snapshot failed")
		return fmt.Errorf("%w: %s: %w", domain.ErrPersist, s.name, err)
	}
	return nil
}

func (s *Store[T]) write(items []T) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.backend.Save(data)
}

func maxID[T Entity[T]](items []T) int {
	highest := 0
	for _, item := range items {
		if id := item.EntityID(); id > highest {
			highest = id
		}
	}
	return highest
}

// repairIDs назначает max+1 записям с ID <= 0 и повторам; первая запись с данным ID сохраняет его.
func repairIDs[T Entity[T]](items []T) int {
	next := maxID(items)
	seen := make(map[int]struct{}, len(items))
	repaired := 0
	for i, item := range items {
		id := item.EntityID()
		if _, dup := seen[id]; id > 0 && !dup {
			seen[id] = struct{}{}
			continue
		}
		next++
		items[i] = item.WithEntityID(next)
		seen[next] = struct{}{}
		repaired++
	}
	return repaired
}
