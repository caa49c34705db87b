package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolsAPI/internal/chain"
	"poolsAPI/internal/config"
	"poolsAPI/internal/metrics"
	"poolsAPI/internal/pools"
	"poolsAPI/internal/pricing"
	"poolsAPI/internal/retry"
	"poolsAPI/internal/storage"
	"poolsAPI/internal/storage/memory"
	"poolsAPI/internal/storage/postgres"
	"poolsAPI/internal/storage/redisstore"
	"poolsAPI/internal/syncer"
	"poolsAPI/internal/tokens"
)

// app holds what a command builds from its configuration.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store   storage.Store
	chain   *chain.Clients
	tokens  *tokens.Resolver
	prices  *pricing.Updater
	syncers *syncer.Scheduler
}

func loadConfig(cfgFile string, cmd *cobra.Command) (config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}

// openStore connects the configured cache backend.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	capacity := storage.Capacity{Read: cfg.ReadCapacity, Write: cfg.WriteCapacity}

	switch cfg.Store {
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN, capacity)
		if err != nil {
			return nil, err
		}
		if err := store.CreateSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store, err := redisstore.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, capacity)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.NewStore(), nil
	}
}

// build opens the store and, when withSync is set, the chain, oracle and
// synchronizer components on top of it.
func (a *app) build(ctx context.Context, withSync bool) error {
	if withSync {
		if err := a.cfg.ValidateSync(); err != nil {
			return err
		}
	}
	if a.metrics == nil {
		a.metrics = metrics.New(prometheus.DefaultRegisterer)
	}

	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store
	if !withSync {
		return nil
	}

	a.chain = chain.NewClients(a.cfg.RPCURLs(), a.cfg.RPCTimeout)

	known := tokens.NewKnownTokens(a.cfg.KnownTokenCache, a.cfg.KnownTokenTTL)
	a.tokens = tokens.NewResolver(tokens.Config{Concurrency: a.cfg.TokenConcurrency}, a.chain, store, known, a.metrics, a.logger.Named("tokens"))

	platforms := make(map[int64]pricing.Platform, len(a.cfg.Networks))
	endpoints := make(map[int64]string, len(a.cfg.Networks))
	for _, n := range a.cfg.Networks {
		platforms[n.ChainID] = pricing.Platform{PlatformID: n.PlatformID, QuoteCurrency: n.QuoteCurrency}
		endpoints[n.ChainID] = n.SubgraphURL
	}

	oracle := pricing.NewCoinGecko(a.cfg.OracleURL, a.cfg.OracleAPIKey, a.cfg.OracleTimeout)
	a.prices = pricing.NewUpdater(pricing.Config{
		MaxBatchSize:     a.cfg.OracleMaxBatch,
		MaxTPS:           a.cfg.OracleMaxTPS,
		MaxRetries:       a.cfg.OracleMaxRetries,
		RateLimitRetries: a.cfg.OracleRateLimitRetries,
		RetryBackoff:     a.cfg.RetryBackoff,
	}, oracle, platforms, store, a.metrics, a.logger.Named("prices"))

	fetcher := pools.NewFetcher(pools.Config{
		PageSize: a.cfg.SubgraphPageSize,
		Retry: retry.Policy{
			MaxRetries: a.cfg.MaxRetries,
			BaseDelay:  a.cfg.RetryBackoff,
			MaxDelay:   30 * time.Second,
		},
	}, endpoints, a.logger.Named("pools"))

	syncers := make([]*syncer.NetworkSyncer, 0, len(a.cfg.Networks))
	for _, n := range a.cfg.Networks {
		syncers = append(syncers, syncer.NewNetworkSyncer(syncer.Config{
			ChainID:       n.ChainID,
			PoolInterval:  a.cfg.PoolInterval,
			PriceInterval: a.cfg.PriceInterval,
		}, syncer.Deps{
			Blocks:  a.chain,
			Pools:   fetcher,
			Tokens:  a.tokens,
			Prices:  a.prices,
			Store:   store,
			Metrics: a.metrics,
			Logger:  a.logger.Named("syncer").With(zap.String("name", n.Name)),
		}))
	}
	a.syncers = syncer.NewScheduler(syncers, a.logger.Named("scheduler"))
	return nil
}

func (a *app) chainIDs() []int64 {
	ids := make([]int64, 0, len(a.cfg.Networks))
	for _, n := range a.cfg.Networks {
		ids = append(ids, n.ChainID)
	}
	return ids
}

func (a *app) close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}
