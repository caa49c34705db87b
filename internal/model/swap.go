package model

import (
	"encoding/json"
	"math/big"
)

// SwapType is the trade direction handed to the router.
type SwapType int

const (
	SwapExactIn SwapType = iota
	SwapExactOut
)

func (s SwapType) String() string {
	switch s {
	case SwapExactIn:
		return "exact_in"
	case SwapExactOut:
		return "exact_out"
	default:
		return "unknown"
	}
}

// Order is the inbound route request body.
type Order struct {
	SellToken string `json:"sellToken"`
	BuyToken  string `json:"buyToken"`
	OrderKind string `json:"orderKind"`
	Amount    string `json:"amount"`
	GasPrice  string `json:"gasPrice"`
}

// SwapStep is one hop of a route. The router owns the schema of the
// individual fields so they stay opaque apart from amounts.
type SwapStep struct {
	PoolID        string          `json:"poolId"`
	AssetInIndex  int             `json:"assetInIndex"`
	AssetOutIndex int             `json:"assetOutIndex"`
	Amount        string          `json:"amount"`
	UserData      string          `json:"userData"`
	Extra         json.RawMessage `json:"extra,omitempty"`
}

// SwapInfo is the router result with exact integer amounts.
type SwapInfo struct {
	TokenAddresses              []string
	Swaps                       []SwapStep
	SwapAmount                  *big.Int
	SwapAmountForSwaps          *big.Int
	ReturnAmount                *big.Int
	ReturnAmountFromSwaps       *big.Int
	ReturnAmountConsideringFees *big.Int
	TokenIn                     string
	TokenOut                    string
	MarketSp                    string
}

// SerializedSwapInfo is SwapInfo with every amount rendered as a base-10
// string. Optional amounts that are absent render as "".
type SerializedSwapInfo struct {
	TokenAddresses              []string   `json:"tokenAddresses"`
	Swaps                       []SwapStep `json:"swaps"`
	SwapAmount                  string     `json:"swapAmount"`
	SwapAmountForSwaps          string     `json:"swapAmountForSwaps"`
	ReturnAmount                string     `json:"returnAmount"`
	ReturnAmountFromSwaps       string     `json:"returnAmountFromSwaps"`
	ReturnAmountConsideringFees string     `json:"returnAmountConsideringFees"`
	TokenIn                     string     `json:"tokenIn"`
	TokenOut                    string     `json:"tokenOut"`
	MarketSp                    string     `json:"marketSp"`
}

// Serialize converts amounts to strings.
func (s SwapInfo) Serialize() SerializedSwapInfo {
	tokenAddresses := s.TokenAddresses
	if tokenAddresses == nil {
		tokenAddresses = []string{}
	}
	swaps := s.Swaps
	if swaps == nil {
		swaps = []SwapStep{}
	}
	return SerializedSwapInfo{
		TokenAddresses:              tokenAddresses,
		Swaps:                       swaps,
		SwapAmount:                  bigString(s.SwapAmount, "0"),
		SwapAmountForSwaps:          bigString(s.SwapAmountForSwaps, ""),
		ReturnAmount:                bigString(s.ReturnAmount, "0"),
		ReturnAmountFromSwaps:       bigString(s.ReturnAmountFromSwaps, ""),
		ReturnAmountConsideringFees: bigString(s.ReturnAmountConsideringFees, "0"),
		TokenIn:                     s.TokenIn,
		TokenOut:                    s.TokenOut,
		MarketSp:                    s.MarketSp,
	}
}

func bigString(v *big.Int, empty string) string {
	if v == nil {
		return empty
	}
	return v.String()
}
