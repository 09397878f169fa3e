package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/storage/snapshot"
)

// SnapshotBackend хранит снапшот коллекции одной строкой таблицы entity_snapshots.
// Запись целиком заменяет payload в одной транзакции, поэтому читатель видит
// либо старый, либо новый снапшот.
type SnapshotBackend struct {
	db         *sql.DB
	collection string
}

// NewSnapshotBackend создаёт бэкенд для коллекции.
func NewSnapshotBackend(store *Store, collection string) *SnapshotBackend {
	return &SnapshotBackend{db: store.DB(), collection: strings.TrimSpace(collection)}
}

// SnapshotBackends — фабрика бэкендов для snapshot.OpenLedgers.
func SnapshotBackends(store *Store) snapshot.BackendFactory {
	return func(collection string) snapshot.Backend {
		return NewSnapshotBackend(store, collection)
	}
}

func (b *SnapshotBackend) Name() string {
	return "postgres:" + b.collection
}

// Load возвращает nil, если коллекция ещё не сохранялась.
func (b *SnapshotBackend) Load() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM entity_snapshots WHERE collection = $1`, b.collection,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", b.collection, err)
	}
	return payload, nil
}

func (b *SnapshotBackend) Save(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("save snapshot %s: payload is not valid json", b.collection)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO entity_snapshots (collection, payload, revision, updated_at)
		VALUES ($1, $2::jsonb, 1, NOW())
		ON CONFLICT (collection) DO UPDATE
		SET payload = EXCLUDED.payload,
		    revision = entity_snapshots.revision + 1,
		    updated_at = NOW()
	`, b.collection, string(data))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", b.collection, err)
	}
	return nil
}

// Revision — число сохранений коллекции; 0, если снапшота нет.
func (b *SnapshotBackend) Revision(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rev int64
	err := b.db.QueryRowContext(queryCtx,
		`SELECT revision FROM entity_snapshots WHERE collection = $1`, b.collection,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot revision %s: %w", b.collection, err)
	}
	return rev, nil
}

var _ snapshot.Backend = (*SnapshotBackend)(nil)
