package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolsAPI/internal/config"
	"poolsAPI/internal/storage/memory"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := openStore(ctx, config.Config{Store: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	_, err = openStore(ctx, config.Config{Store: config.StorePostgres})
	assert.ErrorContains(t, err, "pg dsn")

	_, err = openStore(ctx, config.Config{Store: config.StoreRedis})
	assert.ErrorContains(t, err, "redis addr")

	_, err = openStore(ctx, config.Config{Store: "sqlite"})
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "worker", "update-pools", "update-prices", "init-store"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
		assert.NotNil(t, sub.Flags().Lookup("log-level"), name)
	}

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("http-addr"))
	assert.NotNil(t, serve.Flags().Lookup("oracle-max-tps"))
	assert.NotNil(t, serve.Flags().Lookup("sor-force-refresh"))
	assert.NotNil(t, serve.Flags().Lookup("known-token-ttl"))

	prices, _, err := cmd.Find([]string{"update-prices"})
	require.NoError(t, err)
	assert.NotNil(t, prices.Flags().Lookup("abort"))
}
