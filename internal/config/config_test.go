package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("POLYGON_RPC", "https://polygon.example/rpc")
	t.Setenv("POLYGON_SUBGRAPH", "https://graph.example/polygon")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Len(t, cfg.Networks, 2)
	assert.Equal(t, int64(137), cfg.Networks[0].ChainID)
	assert.Equal(t, "https://polygon.example/rpc", cfg.Networks[0].RPCURL)
	assert.Equal(t, "polygon-pos", cfg.Networks[0].PlatformID)
	assert.Equal(t, int64(1285), cfg.Networks[1].ChainID)

	assert.Equal(t, 500*time.Millisecond, cfg.PoolInterval)
	assert.Equal(t, time.Minute, cfg.PriceInterval)
	assert.Equal(t, 100, cfg.OracleMaxBatch)
	assert.Equal(t, 10.0, cfg.OracleMaxTPS)
	assert.Equal(t, 29*time.Second, cfg.SORTimeout)
	assert.Equal(t, 10, cfg.ReadCapacity)
	assert.Equal(t, 10, cfg.WriteCapacity)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.False(t, cfg.SORForceRefresh)
	assert.Equal(t, time.Minute, cfg.KnownTokenTTL)
}

func TestLoadEnvAndFlags(t *testing.T) {
	chdirTemp(t)
	t.Setenv("POOLS_API_NETWORKS", "1,42161")
	t.Setenv("POOLS_API_WRITE_CAPACITY", "25")
	t.Setenv("POOLS_API_SOR_FORCE_REFRESH", "true")
	t.Setenv("POOLS_API_KNOWN_TOKEN_TTL", "5m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.Duration("price-interval", time.Minute, "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug", "--price-interval=2m"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.PriceInterval)
	assert.Equal(t, 25, cfg.WriteCapacity)
	assert.True(t, cfg.SORForceRefresh)
	assert.Equal(t, 5*time.Minute, cfg.KnownTokenTTL)
	require.Len(t, cfg.Networks, 2)
	assert.Equal(t, "ethereum", cfg.Networks[0].PlatformID)
	assert.Equal(t, "arbitrum-one", cfg.Networks[1].PlatformID)
}

func TestLoadEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("MOONRIVER_RPC", "")
	os.Unsetenv("MOONRIVER_RPC")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MOONRIVER_RPC=https://moonriver.example/rpc\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MOONRIVER_RPC") })

	cfg, err := Load("", nil)
	require.NoError(t, err)

	n, ok := cfg.Network(1285)
	require.True(t, ok)
	assert.Equal(t, "https://moonriver.example/rpc", n.RPCURL)
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networks: \"288\"\nstore: redis\nredis-addr: localhost:6379\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Networks, 1)
	assert.Equal(t, "boba", cfg.Networks[0].Name)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.NoError(t, cfg.ValidateStore())
}

func TestLoadUnsupportedNetwork(t *testing.T) {
	chdirTemp(t)
	t.Setenv("POOLS_API_NETWORKS", "56")

	_, err := Load("", nil)
	assert.ErrorContains(t, err, "unsupported network 56 (known: [1 137 288 1285 42161 1313161554])")
}

func TestValidateSync(t *testing.T) {
	cfg := Config{
		Networks: []Network{{
			ChainID: 137, EnvPrefix: "POLYGON",
			RPCURL: "https://polygon.example/rpc", SubgraphURL: "https://graph.example/polygon",
		}},
		Store:          StoreMemory,
		OracleURL:      "https://api.coingecko.com/api/v3/simple/token_price/",
		PoolInterval:   time.Second,
		PriceInterval:  time.Minute,
		OracleMaxBatch: 100,
		OracleMaxTPS:   10,
	}
	assert.NoError(t, cfg.ValidateSync())

	missing := cfg
	missing.Networks = []Network{{ChainID: 137, EnvPrefix: "POLYGON"}}
	assert.ErrorContains(t, missing.ValidateSync(), "POLYGON_")

	badStore := cfg
	badStore.Store = StorePostgres
	assert.Error(t, badStore.ValidateSync())
}

func TestParseChainIDs(t *testing.T) {
	ids, err := ParseChainIDs([]string{"137", " 1285 "})
	require.NoError(t, err)
	assert.Equal(t, []int64{137, 1285}, ids)

	_, err = ParseChainIDs([]string{"polygon"})
	assert.Error(t, err)
}

func TestKnownChainIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 137, 288, 1285, 42161, 1313161554}, KnownChainIDs())
}
