package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"poolsAPI/internal/storage"
	"poolsAPI/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("POOLS_API_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POOLS_API_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, dsn, storage.Capacity{Read: 4, Write: 1})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSchema(ctx))
	storagetest.Run(t, store, 900137)
}
