package config

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
)

// Network describes one chain the synchronizer tracks.
type Network struct {
	ChainID int64
	Name    string
	// EnvPrefix selects the <PREFIX>_RPC and <PREFIX>_SUBGRAPH variables.
	EnvPrefix     string
	PlatformID    string
	NativeAsset   string
	QuoteCurrency string

	RPCURL      string
	SubgraphURL string
}

// Native asset addresses used by the price oracle and the router.
var (
	NativeETH   = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE").Hex()
	NativeMOVR  = common.HexToAddress("0x98878b06940ae243284ca214f92bb71a2b032b8a").Hex()
	NativeMATIC = common.HexToAddress("0x7d1afa7b718fb893db30a3abc0cfc608aacfebb0").Hex()
)

var knownNetworks = map[int64]Network{
	1: {
		ChainID: 1, Name: "mainnet", EnvPrefix: "MAINNET",
		PlatformID: "ethereum", NativeAsset: NativeETH, QuoteCurrency: "eth",
	},
	137: {
		ChainID: 137, Name: "polygon", EnvPrefix: "POLYGON",
		// the oracle has no MATIC quote, prices are expressed in ETH
		PlatformID: "polygon-pos", NativeAsset: NativeMATIC, QuoteCurrency: "eth",
	},
	288: {
		ChainID: 288, Name: "boba", EnvPrefix: "BOBA",
		PlatformID: "boba", NativeAsset: NativeETH, QuoteCurrency: "eth",
	},
	1285: {
		ChainID: 1285, Name: "moonriver", EnvPrefix: "MOONRIVER",
		PlatformID: "moonriver", NativeAsset: NativeMOVR, QuoteCurrency: "eth",
	},
	42161: {
		ChainID: 42161, Name: "arbitrum", EnvPrefix: "ARBITRUM",
		PlatformID: "arbitrum-one", NativeAsset: NativeETH, QuoteCurrency: "eth",
	},
	1313161554: {
		ChainID: 1313161554, Name: "aurora", EnvPrefix: "AURORA",
		PlatformID: "aurora", NativeAsset: NativeETH, QuoteCurrency: "eth",
	},
}

// DefaultNetworks are synchronized when none are configured.
var DefaultNetworks = []int64{137, 1285}

// LookupNetwork returns the built-in description of a chain id.
func LookupNetwork(chainID int64) (Network, bool) {
	n, ok := knownNetworks[chainID]
	return n, ok
}

// KnownChainIDs lists every chain id the service knows, ascending.
func KnownChainIDs() []int64 {
	ids := make([]int64, 0, len(knownNetworks))
	for id := range knownNetworks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type networkEnv struct {
	RPC      string `envconfig:"RPC"`
	Subgraph string `envconfig:"SUBGRAPH"`
}

// resolveNetworks builds the configured networks and fills their endpoints
// from the environment.
func resolveNetworks(chainIDs []int64) ([]Network, error) {
	out := make([]Network, 0, len(chainIDs))
	seen := make(map[int64]struct{})
	for _, id := range chainIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		n, ok := LookupNetwork(id)
		if !ok {
			return nil, fmt.Errorf("unsupported network %d (known: %v)", id, KnownChainIDs())
		}
		var env networkEnv
		if err := envconfig.Process(n.EnvPrefix, &env); err != nil {
			return nil, fmt.Errorf("process %s env: %w", n.Name, err)
		}
		n.RPCURL = env.RPC
		n.SubgraphURL = env.Subgraph
		out = append(out, n)
	}
	return out, nil
}

func (n Network) validate() error {
	for name, raw := range map[string]string{
		n.EnvPrefix + "_RPC":      n.RPCURL,
		n.EnvPrefix + "_SUBGRAPH": n.SubgraphURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required for network %d", name, n.ChainID)
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid %s: %s", name, raw)
		}
	}
	return nil
}
