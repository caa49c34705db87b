// Package storagetest holds the behavior every storage.Store backend must
// share. Backend tests call Run with a fresh store.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// Run exercises store on networks chainID and chainID+1. Records written
// are removed on cleanup so persistent backends can be reused.
func Run(t *testing.T, store storage.Store, chainID int64) {
	t.Helper()

	t.Run("pool round trip is byte identical", func(t *testing.T) {
		ctx := context.Background()
		pools := samplePools(chainID)
		cleanupPools(t, store, pools)

		require.NoError(t, store.PutPools(ctx, pools))

		got, err := store.PoolsByNetwork(ctx, chainID)
		require.NoError(t, err)
		require.Len(t, got, len(pools))
		for i := range pools {
			want, err := json.Marshal(pools[i])
			require.NoError(t, err)
			have, err := json.Marshal(got[i])
			require.NoError(t, err)
			require.Equal(t, string(want), string(have))
		}
	})

	t.Run("pool get and overwrite", func(t *testing.T) {
		ctx := context.Background()
		pool := samplePools(chainID)[0]
		cleanupPools(t, store, []model.Pool{pool})

		_, err := store.GetPool(ctx, pool.Key())
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, store.PutPool(ctx, pool))
		got, err := store.GetPool(ctx, pool.Key())
		require.NoError(t, err)
		require.Equal(t, pool, got)

		pool.TokensList = pool.TokensList[:1]
		pool.Data = json.RawMessage(`{"poolType":"Weighted"}`)
		require.NoError(t, store.PutPool(ctx, pool))
		got, err = store.GetPool(ctx, pool.Key())
		require.NoError(t, err)
		require.Equal(t, pool, got)
	})

	t.Run("pool scan is scoped by network", func(t *testing.T) {
		ctx := context.Background()
		a := samplePools(chainID)[:1]
		b := samplePools(chainID + 1)
		cleanupPools(t, store, append(append([]model.Pool{}, a...), b...))

		require.NoError(t, store.PutPools(ctx, a))
		require.NoError(t, store.PutPools(ctx, b))

		got, err := store.PoolsByNetwork(ctx, chainID+1)
		require.NoError(t, err)
		require.Equal(t, b, got)
	})

	t.Run("pool delete", func(t *testing.T) {
		ctx := context.Background()
		pool := samplePools(chainID)[1]
		cleanupPools(t, store, []model.Pool{pool})

		require.NoError(t, store.PutPool(ctx, pool))
		require.NoError(t, store.DeletePool(ctx, pool.Key()))
		_, err := store.GetPool(ctx, pool.Key())
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("invalid pool is rejected", func(t *testing.T) {
		err := store.PutPool(context.Background(), model.Pool{ID: "empty", ChainID: chainID})
		require.Error(t, err)
		require.True(t, errors.Is(err, storage.ErrStorage))
	})

	t.Run("token round trip and batch", func(t *testing.T) {
		ctx := context.Background()
		tokens := sampleTokens(chainID)
		cleanupTokens(t, store, tokens)

		require.NoError(t, store.PutTokens(ctx, tokens))

		got, err := store.TokensByNetwork(ctx, chainID)
		require.NoError(t, err)
		require.Equal(t, tokens, got)

		legacy, err := store.GetToken(ctx, tokens[2].Key())
		require.NoError(t, err)
		require.Nil(t, legacy.Decimals)
	})

	t.Run("token get overwrite delete", func(t *testing.T) {
		ctx := context.Background()
		token := sampleTokens(chainID)[0]
		cleanupTokens(t, store, []model.Token{token})

		_, err := store.GetToken(ctx, token.Key())
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, store.PutToken(ctx, token))
		token.Price = "2000.5"
		token.LastUpdate = 1700000000000
		require.NoError(t, store.PutToken(ctx, token))

		got, err := store.GetToken(ctx, token.Key())
		require.NoError(t, err)
		require.Equal(t, token, got)

		require.NoError(t, store.DeleteToken(ctx, token.Key()))
		_, err = store.GetToken(ctx, token.Key())
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("token delete is reported", func(t *testing.T) {
		notifier, ok := store.(storage.TokenDeleteNotifier)
		require.True(t, ok, "store does not report token deletes")

		ctx := context.Background()
		token := sampleTokens(chainID)[1]
		cleanupTokens(t, store, []model.Token{token})

		var mu sync.Mutex
		var deleted []model.TokenKey
		notifier.OnTokenDeleted(func(key model.TokenKey) {
			mu.Lock()
			deleted = append(deleted, key)
			mu.Unlock()
		})

		require.NoError(t, store.PutToken(ctx, token))
		require.NoError(t, store.DeleteToken(ctx, token.Key()))

		mu.Lock()
		defer mu.Unlock()
		require.Contains(t, deleted, token.Key())
	})

	t.Run("empty network scans are empty", func(t *testing.T) {
		ctx := context.Background()
		pools, err := store.PoolsByNetwork(ctx, chainID+2)
		require.NoError(t, err)
		require.Empty(t, pools)
		tokens, err := store.TokensByNetwork(ctx, chainID+2)
		require.NoError(t, err)
		require.Empty(t, tokens)
	})
}

func samplePools(chainID int64) []model.Pool {
	return []model.Pool{
		{
			ID:         "0x03cd191f589d12b0582a99808cf19851e468e6b500010000000000000000000a",
			ChainID:    chainID,
			TokensList: []string{"0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"},
			Data:       json.RawMessage(`{"poolType":"Weighted","swapFee":"0.0025","tokens":[{"address":"0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270","balance":"1234.5","weight":"0.5"},{"address":"0x2791bca1f2de4661ed88a30c99a7a9449aa84174","balance":"987.65","weight":"0.5"}]}`),
		},
		{
			ID:         "0x06df3b2bbb68adc8b0e302443692037ed9f91b42000000000000000000000012",
			ChainID:    chainID,
			TokensList: []string{"0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"},
			Data:       json.RawMessage(`{"poolType":"Stable","swapFee":"0.0004","amp":"2000"}`),
		},
	}
}

func sampleTokens(chainID int64) []model.Token {
	return []model.Token{
		{Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", ChainID: chainID, Symbol: "WMATIC", Decimals: model.IntPtr(18), Price: "1"},
		{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", ChainID: chainID, Symbol: "USDC", Decimals: model.IntPtr(6), Price: "1.42", LastUpdate: 1700000000000},
		{Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", ChainID: chainID, Symbol: "USDT", Price: "", NoPriceData: true},
	}
}

func cleanupPools(t *testing.T, store storage.Store, pools []model.Pool) {
	t.Cleanup(func() {
		for _, pool := range pools {
			_ = store.DeletePool(context.Background(), pool.Key())
		}
	})
}

func cleanupTokens(t *testing.T, store storage.Store, tokens []model.Token) {
	t.Cleanup(func() {
		for _, token := range tokens {
			_ = store.DeleteToken(context.Background(), token.Key())
		}
	})
}
