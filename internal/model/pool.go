package model

import (
	"encoding/json"
	"fmt"
)

// Pool is a liquidity pool snapshot for one network.
// Data holds the pool-type specific subgraph object; the router defines its
// schema. Its token addresses are checksummed like TokensList.
type Pool struct {
	ID         string          `json:"id"`
	ChainID    int64           `json:"chainId"`
	TokensList []string        `json:"tokensList"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Key returns the composite key of the pool.
func (p Pool) Key() PoolKey {
	return PoolKey{ID: p.ID, ChainID: p.ChainID}
}

// Validate reports whether the pool can be stored.
func (p Pool) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pool id is required")
	}
	if len(p.TokensList) == 0 {
		return fmt.Errorf("pool %s has empty tokens list", p.ID)
	}
	return nil
}

// PoolKey addresses a pool record.
type PoolKey struct {
	ID      string
	ChainID int64
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%d/%s", k.ChainID, k.ID)
}

// TokenAddresses returns the distinct token addresses referenced by pools,
// in first-seen order.
func TokenAddresses(pools []Pool) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, pool := range pools {
		for _, address := range pool.TokensList {
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			out = append(out, address)
		}
	}
	return out
}
