package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel string
	HTTPAddr string

	Networks []Network

	Store         string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ReadCapacity  int
	WriteCapacity int

	PoolInterval  time.Duration
	PriceInterval time.Duration
	RPCTimeout    time.Duration

	SubgraphPageSize int
	MaxRetries       int
	RetryBackoff     time.Duration

	TokenConcurrency int
	KnownTokenCache  int
	KnownTokenTTL    time.Duration

	OracleURL              string
	OracleAPIKey           string
	OracleMaxBatch         int
	OracleMaxTPS           float64
	OracleMaxRetries       int
	OracleRateLimitRetries int
	OracleTimeout          time.Duration

	SORURL      string
	SORTimeout  time.Duration
	SORMaxPools int

	// SORForceRefresh makes the optimizer read pools through the store
	// provider instead of the request snapshot.
	SORForceRefresh bool

	CORSAllowedOrigin string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLS_API")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("http-addr", ":8090")
	v.SetDefault("env-file", ".env")
	v.SetDefault("networks", "137,1285")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis-db", 0)
	v.SetDefault("read-capacity", 10)
	v.SetDefault("write-capacity", 10)
	v.SetDefault("pool-interval", 500*time.Millisecond)
	v.SetDefault("price-interval", time.Minute)
	v.SetDefault("rpc-timeout", 10*time.Second)
	v.SetDefault("subgraph-page-size", 1000)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("token-concurrency", 8)
	v.SetDefault("known-token-cache", 10000)
	v.SetDefault("known-token-ttl", time.Minute)
	v.SetDefault("oracle-url", "https://api.coingecko.com/api/v3/simple/token_price/")
	v.SetDefault("oracle-max-batch", 100)
	v.SetDefault("oracle-max-tps", 10.0)
	v.SetDefault("oracle-max-retries", 3)
	v.SetDefault("oracle-rate-limit-retries", 5)
	v.SetDefault("oracle-timeout", 10*time.Second)
	v.SetDefault("sor-timeout", 29*time.Second)
	v.SetDefault("sor-max-pools", 10)
	v.SetDefault("sor-force-refresh", false)
	v.SetDefault("cors-allowed-origin", "*")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := loadEnvFile(v.GetString("env-file"), flagChanged(flags, "env-file")); err != nil {
		return Config{}, err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	chainIDs, err := ParseChainIDs(getStringSlice(v, "networks"))
	if err != nil {
		return Config{}, err
	}
	if len(chainIDs) == 0 {
		chainIDs = DefaultNetworks
	}
	networks, err := resolveNetworks(chainIDs)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:               v.GetString("log-level"),
		HTTPAddr:               v.GetString("http-addr"),
		Networks:               networks,
		Store:                  v.GetString("store"),
		PGDSN:                  v.GetString("pg-dsn"),
		RedisAddr:              v.GetString("redis-addr"),
		RedisPassword:          v.GetString("redis-password"),
		RedisDB:                v.GetInt("redis-db"),
		ReadCapacity:           v.GetInt("read-capacity"),
		WriteCapacity:          v.GetInt("write-capacity"),
		PoolInterval:           v.GetDuration("pool-interval"),
		PriceInterval:          v.GetDuration("price-interval"),
		RPCTimeout:             v.GetDuration("rpc-timeout"),
		SubgraphPageSize:       v.GetInt("subgraph-page-size"),
		MaxRetries:             v.GetInt("max-retries"),
		RetryBackoff:           v.GetDuration("retry-backoff"),
		TokenConcurrency:       v.GetInt("token-concurrency"),
		KnownTokenCache:        v.GetInt("known-token-cache"),
		KnownTokenTTL:          v.GetDuration("known-token-ttl"),
		OracleURL:              v.GetString("oracle-url"),
		OracleAPIKey:           v.GetString("oracle-api-key"),
		OracleMaxBatch:         v.GetInt("oracle-max-batch"),
		OracleMaxTPS:           v.GetFloat64("oracle-max-tps"),
		OracleMaxRetries:       v.GetInt("oracle-max-retries"),
		OracleRateLimitRetries: v.GetInt("oracle-rate-limit-retries"),
		OracleTimeout:          v.GetDuration("oracle-timeout"),
		SORURL:                 v.GetString("sor-url"),
		SORTimeout:             v.GetDuration("sor-timeout"),
		SORMaxPools:            v.GetInt("sor-max-pools"),
		SORForceRefresh:        v.GetBool("sor-force-refresh"),
		CORSAllowedOrigin:      v.GetString("cors-allowed-origin"),
	}

	return cfg, nil
}

// Network returns the configured network for a chain id.
func (c Config) Network(chainID int64) (Network, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return Network{}, false
}

// RPCURLs maps each configured chain id to its RPC endpoint.
func (c Config) RPCURLs() map[int64]string {
	out := make(map[int64]string, len(c.Networks))
	for _, n := range c.Networks {
		out[n.ChainID] = n.RPCURL
	}
	return out
}

// ValidateSync checks what the synchronizer needs: endpoints for every
// network and a reachable oracle.
func (c Config) ValidateSync() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	for _, n := range c.Networks {
		if err := n.validate(); err != nil {
			return err
		}
	}
	if _, err := url.ParseRequestURI(c.OracleURL); err != nil {
		return fmt.Errorf("invalid oracle url: %s", c.OracleURL)
	}
	if c.PoolInterval <= 0 || c.PriceInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.OracleMaxBatch <= 0 {
		return fmt.Errorf("oracle max batch must be positive")
	}
	if c.OracleMaxTPS <= 0 {
		return fmt.Errorf("oracle max tps must be positive")
	}
	return c.ValidateStore()
}

// ValidateStore checks the selected cache backend settings.
func (c Config) ValidateStore() error {
	switch c.Store {
	case StoreMemory:
		return nil
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres store")
		}
		return nil
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis addr is required for the redis store")
		}
		return nil
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
}

// ParseChainIDs converts decimal chain ids.
func ParseChainIDs(inputs []string) ([]int64, error) {
	ids := make([]int64, 0, len(inputs))
	for _, input := range inputs {
		id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid chain id: %s", input)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadEnvFile loads path into the process environment. A missing file is
// only an error when it was asked for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return flatten(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return flatten(items)
	default:
		return nil
	}
}

// flatten splits comma-joined entries, as env values arrive as one string.
func flatten(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, splitAndClean(item)...)
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
