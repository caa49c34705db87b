package model

import (
	"encoding/json"
	"math/big"
	"reflect"
	"testing"
)

func TestPoolJSONRoundTrip(t *testing.T) {
	original := Pool{
		ID:         "0x06df3b2bbb68adc8b0e302443692037ed9f91b42000000000000000000000012",
		ChainID:    137,
		TokensList: []string{"0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"},
		Data:       json.RawMessage(`{"poolType":"Stable","swapFee":"0.0004","amp":"200"}`),
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Pool
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestPoolValidate(t *testing.T) {
	if err := (Pool{ID: "a", TokensList: []string{"0x1"}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Pool{ID: "a"}).Validate(); err == nil {
		t.Fatalf("expected error for empty tokens list")
	}
	if err := (Pool{TokensList: []string{"0x1"}}).Validate(); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestTokenAddresses(t *testing.T) {
	pools := []Pool{
		{ID: "p1", TokensList: []string{"0xA", "0xB"}},
		{ID: "p2", TokensList: []string{"0xB", "0xC"}},
		{ID: "p3", TokensList: []string{"0xA", "0xD", "0xE"}},
	}

	got := TokenAddresses(pools)
	want := []string{"0xA", "0xB", "0xC", "0xD", "0xE"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("addresses mismatch: %v != %v", got, want)
	}
}

func TestSwapInfoSerialize(t *testing.T) {
	info := SwapInfo{
		TokenAddresses:              []string{"0xA", "0xB"},
		Swaps:                       []SwapStep{{PoolID: "p1", AssetInIndex: 0, AssetOutIndex: 1, Amount: "1000", UserData: "0x"}},
		SwapAmount:                  big.NewInt(1000),
		ReturnAmount:                new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		ReturnAmountConsideringFees: big.NewInt(997),
		TokenIn:                     "0xA",
		TokenOut:                    "0xB",
		MarketSp:                    "1.0003",
	}

	got := info.Serialize()
	want := SerializedSwapInfo{
		TokenAddresses:              []string{"0xA", "0xB"},
		Swaps:                       info.Swaps,
		SwapAmount:                  "1000",
		SwapAmountForSwaps:          "",
		ReturnAmount:                "1000000000000000000000000000000",
		ReturnAmountFromSwaps:       "",
		ReturnAmountConsideringFees: "997",
		TokenIn:                     "0xA",
		TokenOut:                    "0xB",
		MarketSp:                    "1.0003",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("serialized mismatch: %+v != %+v", got, want)
	}
}

func TestSwapInfoSerializeEmpty(t *testing.T) {
	got := SwapInfo{}.Serialize()
	if got.SwapAmount != "0" || got.ReturnAmount != "0" {
		t.Fatalf("expected zero amounts, got %+v", got)
	}
	if got.TokenAddresses == nil || got.Swaps == nil {
		t.Fatalf("expected empty slices, got %+v", got)
	}
}
