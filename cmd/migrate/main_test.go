package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

type fakeMigrator struct {
	upSteps   []int
	downSteps []int
	status    postgres.MigrationStatus
	err       error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationStatus, error) {
	return f.status, nil
}

func TestRun_Directions(t *testing.T) {
	m := &fakeMigrator{status: postgres.MigrationStatus{Version: 3, Applied: 3}}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), &out, m, " UP ", 0))
	require.NoError(t, run(context.Background(), &out, m, "down", 0))
	require.NoError(t, run(context.Background(), &out, m, "status", 0))

	assert.Equal(t, []int{0}, m.upSteps)
	assert.Equal(t, []int{1}, m.downSteps, "down without steps rolls back one migration")
	assert.Contains(t, out.String(), "migrate up ok: version=3 applied=3 pending=0")
	assert.Contains(t, out.String(), "migrate status ok")
}

func TestRun_Errors(t *testing.T) {
	m := &fakeMigrator{err: errors.New("boom")}

	err := run(context.Background(), &bytes.Buffer{}, m, "up", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate up failed")

	err = run(context.Background(), &bytes.Buffer{}, m, "sideways", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported direction")
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("MARKETPLACE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("MARKETPLACE_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, run(ctx, &out, store, "up", 0))
	require.NoError(t, run(ctx, &out, store, "status", 0))
	assert.Contains(t, out.String(), "pending=0")
}
