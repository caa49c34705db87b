package model

import "fmt"

// DefaultDecimals is used when a token does not report its decimals.
const DefaultDecimals = 18

// Token captures ERC20 metadata and the latest oracle price.
//
// Price is the price of the network's native asset with the token as base:
// with ETH at $2000, USDC is "2000" and a $50000 WBTC is "0.04".
// An empty Price means the token was never priced.
type Token struct {
	Address     string `json:"address"`
	ChainID     int64  `json:"chainId"`
	Symbol      string `json:"symbol"`
	Decimals    *int   `json:"decimals,omitempty"`
	Price       string `json:"price"`
	LastUpdate  int64  `json:"lastUpdate,omitempty"`
	NoPriceData bool   `json:"noPriceData,omitempty"`
}

// Key returns the composite key of the token.
func (t Token) Key() TokenKey {
	return TokenKey{Address: t.Address, ChainID: t.ChainID}
}

// IntPtr is a helper for building tokens with known decimals.
func IntPtr(v int) *int {
	return &v
}

// TokenKey addresses a token record.
type TokenKey struct {
	Address string
	ChainID int64
}

func (k TokenKey) String() string {
	return fmt.Sprintf("%d/%s", k.ChainID, k.Address)
}
