package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolsAPI/internal/metrics"
	"poolsAPI/internal/model"
	"poolsAPI/internal/pools"
	"poolsAPI/internal/storage"
)

// BlockReader reads the head block of a network.
type BlockReader interface {
	CurrentBlockNumber(ctx context.Context, chainID int64) (uint64, error)
}

// TokenResolver turns pool token addresses into token records.
type TokenResolver interface {
	RemoveKnownTokens(ctx context.Context, chainID int64, addresses []string) ([]string, error)
	ResolveAll(ctx context.Context, chainID int64, addresses []string) ([]model.Token, error)
	MarkKnown(tokens []model.Token)
}

// PriceRefresher prices tokens and writes them back.
type PriceRefresher interface {
	Refresh(ctx context.Context, tokens []model.Token, abortOnRateLimit bool) (int, error)
}

// Store is the part of the cache a syncer writes to.
type Store interface {
	storage.PoolRepository
	storage.TokenRepository
}

// Config holds the cadence of one network's loops.
type Config struct {
	ChainID       int64
	PoolInterval  time.Duration
	PriceInterval time.Duration
}

// Deps are the collaborators of a NetworkSyncer.
type Deps struct {
	Blocks  BlockReader
	Pools   pools.Source
	Tokens  TokenResolver
	Prices  PriceRefresher
	Store   Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NetworkSyncer keeps the cache of one network in step with the chain.
// Structural passes run at most once per distinct block.
type NetworkSyncer struct {
	cfg     Config
	deps    Deps
	network string
	logger  *zap.Logger

	// mu serializes passes and guards lastBlock.
	mu        sync.Mutex
	lastBlock uint64
}

func NewNetworkSyncer(cfg Config, deps Deps) *NetworkSyncer {
	if cfg.PoolInterval <= 0 {
		cfg.PoolInterval = 500 * time.Millisecond
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &NetworkSyncer{
		cfg:     cfg,
		deps:    deps,
		network: strconv.FormatInt(cfg.ChainID, 10),
		logger:  deps.Logger.With(zap.Int64("network", cfg.ChainID)),
	}
}

// ChainID returns the network this syncer owns.
func (s *NetworkSyncer) ChainID() int64 {
	return s.cfg.ChainID
}

// LastBlock returns the block of the last successful structural pass.
func (s *NetworkSyncer) LastBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBlock
}

// Run drives the pool and price loops until ctx is done.
func (s *NetworkSyncer) Run(ctx context.Context) {
	s.logger.Info("network sync started",
		zap.Duration("pool_interval", s.cfg.PoolInterval),
		zap.Duration("price_interval", s.cfg.PriceInterval),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.cfg.PoolInterval, func(ctx context.Context) {
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("pool sync failed", zap.Error(err))
			}
		})
	}()
	if s.deps.Prices != nil {
		go func() {
			defer wg.Done()
			s.loop(ctx, s.cfg.PriceInterval, func(ctx context.Context) {
				if err := s.SyncPrices(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("price sync failed", zap.Error(err))
				}
			})
		}()
	} else {
		wg.Done()
	}
	wg.Wait()

	s.logger.Info("network sync stopped", zap.Uint64("last_block", s.LastBlock()))
}

// loop runs fn once, then on every tick until ctx is done.
func (s *NetworkSyncer) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs a structural pass when the head block moved since the last
// successful pass. It reports whether a pass ran.
func (s *NetworkSyncer) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := s.deps.Blocks.CurrentBlockNumber(ctx, s.cfg.ChainID)
	if err != nil {
		return false, s.fail(&PassError{ChainID: s.cfg.ChainID, Block: s.lastBlock, Stage: StageBlock, Err: err})
	}
	if block == s.lastBlock {
		return false, nil
	}
	s.logger.Debug("new block", zap.Uint64("block", block))
	return true, s.pass(ctx, block)
}

// SyncOnce runs a structural pass regardless of the last observed block.
func (s *NetworkSyncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := s.deps.Blocks.CurrentBlockNumber(ctx, s.cfg.ChainID)
	if err != nil {
		return s.fail(&PassError{ChainID: s.cfg.ChainID, Block: s.lastBlock, Stage: StageBlock, Err: err})
	}
	return s.pass(ctx, block)
}

// pass fetches the full pool snapshot, resolves the tokens not cached yet
// and writes pools before tokens. The cursor only moves when every stage
// succeeded. Callers hold mu.
func (s *NetworkSyncer) pass(ctx context.Context, block uint64) error {
	start := time.Now()
	s.deps.Metrics.SyncPassesTotal.WithLabelValues(s.network).Inc()
	defer func() {
		s.deps.Metrics.SyncDuration.WithLabelValues(s.network, "pools").Observe(time.Since(start).Seconds())
	}()

	stageErr := func(stage string, err error) error {
		return s.fail(&PassError{ChainID: s.cfg.ChainID, Block: block, Stage: stage, Err: err})
	}

	snapshot, err := s.deps.Pools.FetchPools(ctx, s.cfg.ChainID)
	if err != nil {
		return stageErr(StageFetch, err)
	}

	addresses := model.TokenAddresses(snapshot)
	unknown, err := s.deps.Tokens.RemoveKnownTokens(ctx, s.cfg.ChainID, addresses)
	if err != nil {
		return stageErr(StageFilter, err)
	}

	resolved, err := s.deps.Tokens.ResolveAll(ctx, s.cfg.ChainID, unknown)
	if err != nil {
		return stageErr(StageResolve, err)
	}

	if err := s.deps.Store.PutPools(ctx, snapshot); err != nil {
		return stageErr(StageWritePools, err)
	}
	s.deps.Metrics.PoolsWritten.WithLabelValues(s.network).Add(float64(len(snapshot)))

	if len(resolved) > 0 {
		if err := s.deps.Store.PutTokens(ctx, resolved); err != nil {
			return stageErr(StageWriteTokens, err)
		}
		s.deps.Tokens.MarkKnown(resolved)
	}

	s.lastBlock = block
	s.deps.Metrics.LastObservedBlock.WithLabelValues(s.network).Set(float64(block))
	s.logger.Info("pools synced",
		zap.Uint64("block", block),
		zap.Int("pools", len(snapshot)),
		zap.Int("tokens", len(addresses)),
		zap.Int("new_tokens", len(resolved)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// SyncPrices refreshes the prices of every cached token of the network.
func (s *NetworkSyncer) SyncPrices(ctx context.Context) error {
	if s.deps.Prices == nil {
		return fmt.Errorf("price refresher is nil")
	}
	start := time.Now()
	defer func() {
		s.deps.Metrics.SyncDuration.WithLabelValues(s.network, "prices").Observe(time.Since(start).Seconds())
	}()

	tokens, err := s.deps.Store.TokensByNetwork(ctx, s.cfg.ChainID)
	if err != nil {
		return s.fail(&PassError{ChainID: s.cfg.ChainID, Block: s.LastBlock(), Stage: StagePrices, Err: err})
	}
	if len(tokens) == 0 {
		return nil
	}

	priced, err := s.deps.Prices.Refresh(ctx, tokens, false)
	if err != nil {
		return s.fail(&PassError{ChainID: s.cfg.ChainID, Block: s.LastBlock(), Stage: StagePrices, Err: err})
	}
	s.logger.Info("prices synced",
		zap.Int("tokens", len(tokens)),
		zap.Int("priced", priced),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *NetworkSyncer) fail(err *PassError) error {
	if errors.Is(err.Err, context.Canceled) {
		return err
	}
	s.deps.Metrics.SyncErrorsTotal.WithLabelValues(s.network, err.Stage).Inc()
	return err
}
