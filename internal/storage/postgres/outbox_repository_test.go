package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func orderPlacedMessage(id, aggregateID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   aggregateID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":` + aggregateID + `}`),
	}
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	repo := NewOutboxRepository(openMigratedStore(t))

	first, err := repo.Enqueue(orderPlacedMessage("", "1"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := repo.Enqueue(orderPlacedMessage("fixed-id", "2"))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", second.ID)

	_, err = repo.Enqueue(orderPlacedMessage("fixed-id", "3"))
	require.Error(t, err)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.JSONEq(t, `{"order_id":1}`, string(pending[0].Payload))

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(first.ID))
	require.NoError(t, repo.MarkFailed(second.ID))

	pending, err = repo.PullPending(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	repo := NewOutboxRepository(openMigratedStore(t))

	require.ErrorIs(t, repo.MarkSent("missing"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("missing"), domain.ErrOutboxPublish)
}
