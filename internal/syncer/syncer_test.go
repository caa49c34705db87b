package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolsAPI/internal/chain"
	"poolsAPI/internal/metrics"
	"poolsAPI/internal/model"
	"poolsAPI/internal/pools"
	"poolsAPI/internal/storage/memory"
	"poolsAPI/internal/tokens"
)

const (
	wmatic = "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"
	usdc   = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	dai    = "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"
	usdt   = "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"
	weth   = "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
)

// fakeChain serves a scripted block sequence and constant ERC20 metadata.
type fakeChain struct {
	mu       sync.Mutex
	blocks   []uint64
	blockErr error
	symbols  map[string]int
}

func newFakeChain(blocks ...uint64) *fakeChain {
	return &fakeChain{blocks: blocks, symbols: make(map[string]int)}
}

func (c *fakeChain) CurrentBlockNumber(_ context.Context, _ int64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockErr != nil {
		return 0, c.blockErr
	}
	block := c.blocks[0]
	if len(c.blocks) > 1 {
		c.blocks = c.blocks[1:]
	}
	return block, nil
}

func (c *fakeChain) Call(_ context.Context, _ int64, address common.Address, _ abi.ABI, method string) ([]interface{}, error) {
	switch method {
	case "symbol":
		c.mu.Lock()
		c.symbols[address.Hex()]++
		c.mu.Unlock()
		return []interface{}{"TKN"}, nil
	case "decimals":
		return []interface{}{uint8(18)}, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (c *fakeChain) resolved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.symbols)
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	pools []model.Pool
	fail  func(call int) error
}

func (s *fakeSource) FetchPools(_ context.Context, _ int64) ([]model.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return nil, err
		}
	}
	return s.pools, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingStore counts records written through the batch calls.
type recordingStore struct {
	*memory.Store
	poolsWritten  atomic.Int32
	tokensWritten atomic.Int32
}

func (s *recordingStore) PutPools(ctx context.Context, p []model.Pool) error {
	s.poolsWritten.Add(int32(len(p)))
	return s.Store.PutPools(ctx, p)
}

func (s *recordingStore) PutTokens(ctx context.Context, t []model.Token) error {
	s.tokensWritten.Add(int32(len(t)))
	return s.Store.PutTokens(ctx, t)
}

type fakeRefresher struct {
	mu     sync.Mutex
	tokens []model.Token
	abort  []bool
}

func (r *fakeRefresher) Refresh(_ context.Context, t []model.Token, abort bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, t...)
	r.abort = append(r.abort, abort)
	return len(t), nil
}

func scenarioPools() []model.Pool {
	return []model.Pool{
		{ID: "0xpool1", ChainID: 137, TokensList: []string{usdc, dai}, Data: []byte(`{"id":"0xpool1"}`)},
		{ID: "0xpool2", ChainID: 137, TokensList: []string{dai, wmatic, usdt}, Data: []byte(`{"id":"0xpool2"}`)},
		{ID: "0xpool3", ChainID: 137, TokensList: []string{usdt, weth}, Data: []byte(`{"id":"0xpool3"}`)},
	}
}

type harness struct {
	chain   *fakeChain
	source  *fakeSource
	store   *recordingStore
	prices  *fakeRefresher
	metrics *metrics.Metrics
	syncer  *NetworkSyncer
}

func newHarness(t *testing.T, chainID int64, c *fakeChain, source *fakeSource) *harness {
	t.Helper()
	store := &recordingStore{Store: memory.NewStore()}
	m := metrics.NewNop()
	known := tokens.NewKnownTokens(64, 0)
	resolver := tokens.NewResolver(tokens.Config{Concurrency: 2}, c, store, known, m, nil)
	prices := &fakeRefresher{}

	s := NewNetworkSyncer(Config{ChainID: chainID, PoolInterval: 5 * time.Millisecond, PriceInterval: 5 * time.Millisecond}, Deps{
		Blocks:  c,
		Pools:   source,
		Tokens:  resolver,
		Prices:  prices,
		Store:   store,
		Metrics: m,
	})
	return &harness{chain: c, source: source, store: store, prices: prices, metrics: m, syncer: s}
}

var _ chain.Reader = (*fakeChain)(nil)

func TestPassResolvesOnlyUnknownTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 137, newFakeChain(100), &fakeSource{pools: scenarioPools()})
	require.NoError(t, h.store.Store.PutTokens(ctx, []model.Token{
		{Address: usdc, ChainID: 137, Symbol: "USDC", Decimals: model.IntPtr(6), Price: "1500"},
		{Address: dai, ChainID: 137, Symbol: "DAI", Decimals: model.IntPtr(18), Price: "1500"},
	}))

	ran, err := h.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Equal(t, 3, h.chain.resolved())
	assert.Equal(t, int32(3), h.store.poolsWritten.Load())
	assert.Equal(t, int32(3), h.store.tokensWritten.Load())

	stored, err := h.store.TokensByNetwork(ctx, 137)
	require.NoError(t, err)
	assert.Len(t, stored, 5)

	cached, err := h.store.GetToken(ctx, model.TokenKey{Address: usdc, ChainID: 137})
	require.NoError(t, err)
	assert.Equal(t, "USDC", cached.Symbol)
	assert.Equal(t, "1500", cached.Price)

	assert.Equal(t, uint64(100), h.syncer.LastBlock())
	assert.Equal(t, float64(100), testutil.ToFloat64(h.metrics.LastObservedBlock.WithLabelValues("137")))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.PoolsWritten.WithLabelValues("137")))
}

func TestTickRunsOncePerBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 137, newFakeChain(10, 10, 11, 11), &fakeSource{pools: scenarioPools()})

	var ran []bool
	for i := 0; i < 4; i++ {
		r, err := h.syncer.Tick(ctx)
		require.NoError(t, err)
		ran = append(ran, r)
	}
	assert.Equal(t, []bool{true, false, true, false}, ran)
	assert.Equal(t, 2, h.source.count())

	// the second pass finds every token in the known cache
	assert.Equal(t, 5, h.chain.resolved())
	assert.Equal(t, int32(5), h.store.tokensWritten.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.SyncPassesTotal.WithLabelValues("137")))
}

func TestDeletedTokenIsRestoredByNextPass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 137, newFakeChain(20, 21), &fakeSource{pools: scenarioPools()})

	_, err := h.syncer.Tick(ctx)
	require.NoError(t, err)
	key := model.TokenKey{Address: usdc, ChainID: 137}
	require.NoError(t, h.store.DeleteToken(ctx, key))

	ran, err := h.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	restored, err := h.store.GetToken(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "TKN", restored.Symbol)
	assert.Equal(t, int32(6), h.store.tokensWritten.Load())

	h.chain.mu.Lock()
	defer h.chain.mu.Unlock()
	assert.Equal(t, 2, h.chain.symbols[usdc])
}

func TestFailedPassKeepsCursor(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{pools: scenarioPools(), fail: func(call int) error {
		if call == 1 {
			return fmt.Errorf("%w: subgraph returned status 502", pools.ErrFetch)
		}
		return nil
	}}
	h := newHarness(t, 137, newFakeChain(5), source)

	ran, err := h.syncer.Tick(ctx)
	assert.True(t, ran)
	require.Error(t, err)
	assert.ErrorIs(t, err, pools.ErrFetch)

	var passErr *PassError
	require.True(t, errors.As(err, &passErr))
	assert.Equal(t, StageFetch, passErr.Stage)
	assert.Equal(t, uint64(5), passErr.Block)
	assert.Equal(t, int64(137), passErr.ChainID)

	assert.Equal(t, uint64(0), h.syncer.LastBlock())
	assert.Equal(t, int32(0), h.store.poolsWritten.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SyncErrorsTotal.WithLabelValues("137", StageFetch)))

	// same block again: the failed pass is retried
	ran, err = h.syncer.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, uint64(5), h.syncer.LastBlock())
}

func TestBlockErrorKeepsCursor(t *testing.T) {
	c := newFakeChain(1)
	c.blockErr = fmt.Errorf("%w: dial tcp: connection refused", chain.ErrRPCUnavailable)
	h := newHarness(t, 137, c, &fakeSource{pools: scenarioPools()})

	ran, err := h.syncer.Tick(context.Background())
	assert.False(t, ran)
	assert.ErrorIs(t, err, chain.ErrRPCUnavailable)

	var passErr *PassError
	require.True(t, errors.As(err, &passErr))
	assert.Equal(t, StageBlock, passErr.Stage)
	assert.Equal(t, 0, h.source.count())
}

func TestSyncOnceIgnoresBlockGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 137, newFakeChain(10), &fakeSource{pools: scenarioPools()})

	_, err := h.syncer.Tick(ctx)
	require.NoError(t, err)
	require.NoError(t, h.syncer.SyncOnce(ctx))
	assert.Equal(t, 2, h.source.count())
}

func TestSyncPricesRefreshesNetworkTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 137, newFakeChain(1), &fakeSource{})
	require.NoError(t, h.store.Store.PutTokens(ctx, []model.Token{
		{Address: usdc, ChainID: 137, Symbol: "USDC"},
		{Address: dai, ChainID: 137, Symbol: "DAI"},
		{Address: weth, ChainID: 1285, Symbol: "WETH"},
	}))

	require.NoError(t, h.syncer.SyncPrices(ctx))
	require.Len(t, h.prices.tokens, 2)
	for _, token := range h.prices.tokens {
		assert.Equal(t, int64(137), token.ChainID)
	}
	assert.Equal(t, []bool{false}, h.prices.abort)
}

func TestSyncPricesSkipsEmptyNetwork(t *testing.T) {
	h := newHarness(t, 137, newFakeChain(1), &fakeSource{})
	require.NoError(t, h.syncer.SyncPrices(context.Background()))
	assert.Empty(t, h.prices.abort)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 137, newFakeChain(1, 2, 3), &fakeSource{pools: scenarioPools()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.syncer.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return h.syncer.LastBlock() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer did not stop")
	}
	assert.Equal(t, 3, h.source.count())
}

func TestSchedulerRunsEveryNetwork(t *testing.T) {
	polygon := newHarness(t, 137, newFakeChain(7), &fakeSource{pools: scenarioPools()})
	moonriver := newHarness(t, 1285, newFakeChain(9), &fakeSource{})
	scheduler := NewScheduler([]*NetworkSyncer{polygon.syncer, moonriver.syncer}, nil)

	assert.Equal(t, []int64{137, 1285}, scheduler.ChainIDs())
	got, ok := scheduler.Syncer(1285)
	require.True(t, ok)
	assert.Same(t, moonriver.syncer, got)
	_, ok = scheduler.Syncer(1)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return polygon.syncer.LastBlock() == 7 && moonriver.syncer.LastBlock() == 9
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerUpdatePools(t *testing.T) {
	h := newHarness(t, 137, newFakeChain(12), &fakeSource{pools: scenarioPools()})
	scheduler := NewScheduler([]*NetworkSyncer{h.syncer}, nil)

	require.NoError(t, scheduler.UpdatePools(context.Background(), 137))
	assert.Equal(t, uint64(12), h.syncer.LastBlock())

	err := scheduler.UpdatePools(context.Background(), 288)
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}
