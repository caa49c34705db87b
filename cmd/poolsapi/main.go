package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "poolsapi",
		Short:        "Pool and token cache with a route query API",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the per-network synchronizers",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd)
	addSyncFlags(serveCmd)
	serveCmd.Flags().String("http-addr", ":8090", "HTTP listen address")
	serveCmd.Flags().String("sor-url", "", "route optimizer URL (empty disables /sor)")
	serveCmd.Flags().Duration("sor-timeout", 29*time.Second, "route query deadline")
	serveCmd.Flags().Int("sor-max-pools", 10, "maximum pools per route")
	serveCmd.Flags().Bool("sor-force-refresh", false, "let the optimizer reload pools from the store on every query")
	serveCmd.Flags().String("cors-allowed-origin", "*", "Access-Control-Allow-Origin value")
	serveCmd.Flags().Bool("no-sync", false, "serve the cache without running the synchronizers")
	root.AddCommand(serveCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the per-network synchronizers without the HTTP API",
		RunE:  runWorker,
	}
	addCommonFlags(workerCmd)
	addSyncFlags(workerCmd)
	root.AddCommand(workerCmd)

	updatePoolsCmd := &cobra.Command{
		Use:   "update-pools <chainId>",
		Short: "Run one structural sync pass for a network",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdatePools,
	}
	addCommonFlags(updatePoolsCmd)
	addSyncFlags(updatePoolsCmd)
	root.AddCommand(updatePoolsCmd)

	updatePricesCmd := &cobra.Command{
		Use:   "update-prices",
		Short: "Refresh the prices of every cached token",
		RunE:  runUpdatePrices,
	}
	addCommonFlags(updatePricesCmd)
	addSyncFlags(updatePricesCmd)
	updatePricesCmd.Flags().Bool("abort", false, "stop at the first rate-limit answer")
	root.AddCommand(updatePricesCmd)

	initStoreCmd := &cobra.Command{
		Use:   "init-store",
		Short: "Create the postgres tables",
		RunE:  runInitStore,
	}
	addCommonFlags(initStoreCmd)
	root.AddCommand(initStoreCmd)

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("env-file", ".env", "env file loaded before the environment")
	cmd.Flags().StringSlice("networks", nil, "chain ids to serve (comma-separated)")
	cmd.Flags().String("store", "memory", "cache backend (memory, postgres, redis)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("redis-addr", "", "Redis address")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().Int("read-capacity", 10, "concurrent store readers")
	cmd.Flags().Int("write-capacity", 10, "records per store write batch")
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("pool-interval", 500*time.Millisecond, "block poll interval")
	cmd.Flags().Duration("price-interval", time.Minute, "price refresh interval")
	cmd.Flags().Duration("rpc-timeout", 10*time.Second, "per-call RPC deadline")
	cmd.Flags().Int("subgraph-page-size", 1000, "pools per subgraph page")
	cmd.Flags().Int("max-retries", 5, "maximum subgraph retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Int("token-concurrency", 8, "parallel token metadata reads")
	cmd.Flags().Int("known-token-cache", 10000, "known token cache size")
	cmd.Flags().Duration("known-token-ttl", time.Minute, "how long a cached token is trusted before the store is read again (0 never expires)")
	cmd.Flags().String("oracle-url", "https://api.coingecko.com/api/v3/simple/token_price/", "price oracle base URL")
	cmd.Flags().String("oracle-api-key", "", "price oracle API key")
	cmd.Flags().Int("oracle-max-batch", 100, "addresses per oracle request")
	cmd.Flags().Float64("oracle-max-tps", 10, "oracle requests per second")
	cmd.Flags().Int("oracle-max-retries", 3, "oracle transport retries per batch")
	cmd.Flags().Int("oracle-rate-limit-retries", 5, "oracle rate-limit retries per batch")
	cmd.Flags().Duration("oracle-timeout", 10*time.Second, "oracle request timeout")
}

// setup loads the configuration and the logger every command starts from.
func setup(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cfgFile, cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
