package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolsAPI/internal/api"
	"poolsAPI/internal/model"
	"poolsAPI/internal/sor"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	noSync, _ := cmd.Flags().GetBool("no-sync")

	ctx, stop := signalContext()
	defer stop()

	if err := a.build(ctx, !noSync); err != nil {
		return err
	}

	deps := api.Deps{
		Store:    a.store,
		Networks: a.chainIDs(),
		Metrics:  a.metrics,
		Gatherer: prometheus.DefaultGatherer,
		CORS:     api.CORSConfig{AllowedOrigin: a.cfg.CORSAllowedOrigin},
		Logger:   a.logger.Named("api"),
	}
	if a.syncers != nil {
		deps.Pools = a.syncers
	}
	if a.prices != nil {
		deps.Prices = a.prices
	}
	if a.cfg.SORURL != "" {
		optimizer := sor.NewHTTPOptimizer(a.cfg.SORURL, a.cfg.SORTimeout)
		deps.Routes = sor.NewResolver(sor.Config{
			Timeout:      a.cfg.SORTimeout,
			MaxPools:     a.cfg.SORMaxPools,
			ForceRefresh: a.cfg.SORForceRefresh,
		}, a.store, optimizer, a.logger.Named("sor"))
	}
	e := api.NewServer(deps)

	var wg sync.WaitGroup
	if a.syncers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.syncers.Run(ctx)
		}()
	}

	a.logger.Info("http server starting",
		zap.String("addr", a.cfg.HTTPAddr),
		zap.String("store", a.cfg.Store),
		zap.Int64s("networks", deps.Networks),
		zap.Bool("sync", a.syncers != nil),
		zap.Bool("sor", deps.Routes != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(a.cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	wg.Wait()
	a.logger.Info("http server stopped")
	return serveErr
}

func runWorker(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if err := a.build(ctx, true); err != nil {
		return err
	}
	a.logger.Info("worker starting", zap.String("store", a.cfg.Store), zap.Int64s("networks", a.chainIDs()))
	a.syncers.Run(ctx)
	return nil
}

func runUpdatePools(cmd *cobra.Command, args []string) error {
	chainID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || chainID <= 0 {
		return fmt.Errorf("invalid chain id: %s", args[0])
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if err := a.build(ctx, true); err != nil {
		return err
	}

	start := time.Now()
	if err := a.syncers.UpdatePools(ctx, chainID); err != nil {
		return err
	}
	network, _ := a.syncers.Syncer(chainID)
	a.logger.Info("pools updated",
		zap.Int64("network", chainID),
		zap.Uint64("block", network.LastBlock()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func runUpdatePrices(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	abort, _ := cmd.Flags().GetBool("abort")

	ctx, stop := signalContext()
	defer stop()

	if err := a.build(ctx, true); err != nil {
		return err
	}

	all := make([]model.Token, 0)
	for _, chainID := range a.chainIDs() {
		tokens, err := a.store.TokensByNetwork(ctx, chainID)
		if err != nil {
			return err
		}
		all = append(all, tokens...)
	}

	updated, err := a.prices.Refresh(ctx, all, abort)
	if err != nil {
		return err
	}
	a.logger.Info("prices updated", zap.Int("tokens", len(all)), zap.Int("updated", updated), zap.Bool("abort", abort))
	return nil
}

func runInitStore(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	// opening the postgres store creates its tables
	if err := a.build(ctx, false); err != nil {
		return err
	}
	a.logger.Info("store ready", zap.String("store", a.cfg.Store))
	return nil
}
