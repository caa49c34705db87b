package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage/memory"
)

type oracleCall struct {
	platformID string
	currency   string
	addresses  []string
	at         time.Time
}

// fakeOracle answers call n with respond(n, addresses).
type fakeOracle struct {
	mu      sync.Mutex
	calls   []oracleCall
	respond func(n int, addresses []string) (map[string]decimal.Decimal, error)
}

func (o *fakeOracle) TokenPrices(_ context.Context, platformID, currency string, addresses []string) (map[string]decimal.Decimal, error) {
	o.mu.Lock()
	n := len(o.calls)
	o.calls = append(o.calls, oracleCall{platformID: platformID, currency: currency, addresses: addresses, at: time.Now()})
	o.mu.Unlock()
	return o.respond(n, addresses)
}

func priceAll(quote string) func(int, []string) (map[string]decimal.Decimal, error) {
	return func(_ int, addresses []string) (map[string]decimal.Decimal, error) {
		out := make(map[string]decimal.Decimal, len(addresses))
		for _, a := range addresses {
			out[a] = decimal.RequireFromString(quote)
		}
		return out, nil
	}
}

func makeTokens(chainID int64, n int) []model.Token {
	out := make([]model.Token, n)
	for i := range out {
		out[i] = model.Token{
			Address:  fmt.Sprintf("0x%040X", i+1),
			ChainID:  chainID,
			Symbol:   fmt.Sprintf("T%d", i),
			Decimals: model.IntPtr(18),
		}
	}
	return out
}

var testPlatforms = map[int64]Platform{
	137: {PlatformID: "polygon-pos", QuoteCurrency: "eth"},
	1:   {PlatformID: "ethereum", QuoteCurrency: "eth"},
}

func fastConfig() Config {
	return Config{MaxBatchSize: 100, MaxTPS: 1000, MaxRetries: 2, RateLimitRetries: 5, RetryBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestFetchBatchesNeverExceedMax(t *testing.T) {
	oracle := &fakeOracle{respond: priceAll("0.0005")}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, nil, nil, nil)

	got, err := updater.Fetch(context.Background(), makeTokens(137, 250), false)
	require.NoError(t, err)
	assert.Len(t, got, 250)

	require.Len(t, oracle.calls, 3)
	sizes := []int{len(oracle.calls[0].addresses), len(oracle.calls[1].addresses), len(oracle.calls[2].addresses)}
	assert.Equal(t, []int{100, 100, 50}, sizes)
	for _, call := range oracle.calls {
		assert.Equal(t, "polygon-pos", call.platformID)
		assert.Equal(t, "eth", call.currency)
		for _, a := range call.addresses {
			assert.Equal(t, strings.ToLower(a), a)
		}
	}
}

func TestFetchRespectsRateLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxTPS = 20
	oracle := &fakeOracle{respond: priceAll("1")}
	updater := NewUpdater(cfg, oracle, testPlatforms, nil, nil, nil)

	start := time.Now()
	_, err := updater.Fetch(context.Background(), makeTokens(137, 8), false)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Len(t, oracle.calls, 8)
	// 8 requests at 20/s with a burst of 1 need at least 7 intervals of 50ms.
	assert.GreaterOrEqual(t, elapsed, 330*time.Millisecond)

	window := 200 * time.Millisecond
	for i := range oracle.calls {
		inWindow := 0
		for j := i; j < len(oracle.calls); j++ {
			if oracle.calls[j].at.Sub(oracle.calls[i].at) < window {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 5, "requests within %s starting at call %d", window, i)
	}
}

func TestFetchAbortOnRateLimitReturnsPartial(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBatchSize = 2
	oracle := &fakeOracle{respond: func(n int, addresses []string) (map[string]decimal.Decimal, error) {
		if n == 1 {
			return nil, &RateLimitError{}
		}
		return priceAll("0.5")(n, addresses)
	}}
	updater := NewUpdater(cfg, oracle, testPlatforms, nil, nil, nil)

	tokens := makeTokens(137, 6)
	got, err := updater.Fetch(context.Background(), tokens, true)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, tokens[0].Address, got[0].Address)
	assert.Equal(t, tokens[1].Address, got[1].Address)
	assert.Len(t, oracle.calls, 2)
}

func TestFetchBacksOffOnRateLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBatchSize = 2
	oracle := &fakeOracle{respond: func(n int, addresses []string) (map[string]decimal.Decimal, error) {
		if n == 1 || n == 2 {
			return nil, &RateLimitError{RetryAfter: time.Millisecond}
		}
		return priceAll("0.5")(n, addresses)
	}}
	updater := NewUpdater(cfg, oracle, testPlatforms, nil, nil, nil)

	got, err := updater.Fetch(context.Background(), makeTokens(137, 6), false)
	require.NoError(t, err)

	assert.Len(t, got, 6)
	assert.Len(t, oracle.calls, 5)
	for _, token := range got {
		assert.Equal(t, "2", token.Price)
	}
}

func TestFetchRateLimitRetriesBounded(t *testing.T) {
	cfg := fastConfig()
	cfg.RateLimitRetries = 2
	oracle := &fakeOracle{respond: func(int, []string) (map[string]decimal.Decimal, error) {
		return nil, &RateLimitError{}
	}}
	updater := NewUpdater(cfg, oracle, testPlatforms, nil, nil, nil)

	got, err := updater.Fetch(context.Background(), makeTokens(137, 3), false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, oracle.calls, 3)
}

func TestFetchDropsChunkAfterTransportRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBatchSize = 2
	oracle := &fakeOracle{respond: func(n int, addresses []string) (map[string]decimal.Decimal, error) {
		if strings.HasSuffix(addresses[0], "3") {
			return nil, errors.New("connection reset by peer")
		}
		return priceAll("0.25")(n, addresses)
	}}
	updater := NewUpdater(cfg, oracle, testPlatforms, nil, nil, nil)

	tokens := makeTokens(137, 6)
	got, err := updater.Fetch(context.Background(), tokens, false)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, tokens[0].Address, got[0].Address)
	assert.Equal(t, tokens[4].Address, got[2].Address)
	// chunk two: one attempt plus two retries
	assert.Len(t, oracle.calls, 5)
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	oracle := &fakeOracle{respond: func(int, []string) (map[string]decimal.Decimal, error) {
		return nil, &StatusError{StatusCode: 400}
	}}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, nil, nil, nil)

	got, err := updater.Fetch(context.Background(), makeTokens(137, 3), false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, oracle.calls, 1)
}

func TestFetchMarksMissingPrice(t *testing.T) {
	tokens := makeTokens(137, 2)
	tokens[1].Price = "17.5"
	tokens[1].Decimals = model.IntPtr(6)
	priced := strings.ToLower(tokens[0].Address)
	oracle := &fakeOracle{respond: func(int, []string) (map[string]decimal.Decimal, error) {
		return map[string]decimal.Decimal{priced: decimal.RequireFromString("0.0005")}, nil
	}}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, nil, nil, nil)
	updater.now = func() time.Time { return time.UnixMilli(1700000000000) }

	got, err := updater.Fetch(context.Background(), tokens, false)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2000", got[0].Price)
	assert.Equal(t, int64(1700000000000), got[0].LastUpdate)
	assert.False(t, got[0].NoPriceData)

	assert.True(t, got[1].NoPriceData)
	assert.Equal(t, "17.5", got[1].Price)
	assert.Equal(t, tokens[1].Symbol, got[1].Symbol)
	assert.Equal(t, 6, *got[1].Decimals)
}

func TestFetchGroupsByNetwork(t *testing.T) {
	oracle := &fakeOracle{respond: priceAll("1")}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, nil, nil, nil)

	tokens := append(makeTokens(137, 2), makeTokens(1, 1)...)
	tokens = append(tokens, makeTokens(1285, 1)...)
	got, err := updater.Fetch(context.Background(), tokens, false)
	require.NoError(t, err)

	assert.Len(t, got, 3)
	require.Len(t, oracle.calls, 2)
	assert.Equal(t, "polygon-pos", oracle.calls[0].platformID)
	assert.Equal(t, "ethereum", oracle.calls[1].platformID)
}

func TestRefreshWritesStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tokens := makeTokens(137, 3)
	require.NoError(t, store.PutTokens(ctx, tokens))

	oracle := &fakeOracle{respond: priceAll("0.04")}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, store, nil, nil)

	n, err := updater.Refresh(ctx, tokens, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := store.TokensByNetwork(ctx, 137)
	require.NoError(t, err)
	for _, token := range stored {
		assert.Equal(t, "25", token.Price)
		assert.Equal(t, 18, *token.Decimals)
	}
}

func TestFetchContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	oracle := &fakeOracle{respond: func(int, []string) (map[string]decimal.Decimal, error) {
		cancel()
		return nil, errors.New("connection reset")
	}}
	updater := NewUpdater(fastConfig(), oracle, testPlatforms, nil, nil, nil)

	_, err := updater.Fetch(ctx, makeTokens(137, 3), false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvertQuote(t *testing.T) {
	assert.Equal(t, "2000", InvertQuote(decimal.RequireFromString("0.0005")))
	assert.Equal(t, "0.04", InvertQuote(decimal.RequireFromString("25")))
	assert.Equal(t, "0.333333333333333333", InvertQuote(decimal.RequireFromString("3")))
}
