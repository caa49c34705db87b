package sor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// PoolDataProvider hands the optimizer the pools it routes over.
type PoolDataProvider interface {
	GetPools(ctx context.Context) ([]model.Pool, error)
}

// StorePools serves a network's pools from the cache.
type StorePools struct {
	Store   storage.PoolRepository
	ChainID int64
}

func (p StorePools) GetPools(ctx context.Context) ([]model.Pool, error) {
	pools, err := p.Store.PoolsByNetwork(ctx, p.ChainID)
	if err != nil {
		return nil, fmt.Errorf("read pools: %w", err)
	}
	return pools, nil
}

// Request is one routing query.
type Request struct {
	ChainID  int64
	TokenIn  string
	TokenOut string
	SwapType model.SwapType
	Amount   *big.Int
	GasPrice *big.Int
	MaxPools int
	// Pools is the snapshot read for this request. When empty or when
	// ForceRefresh is set the optimizer asks the provider instead.
	Pools        []model.Pool
	ForceRefresh bool

	// Display symbols, the raw address when the token is not cached.
	SellSymbol string
	BuySymbol  string
}

// Optimizer finds the best route for a request.
type Optimizer interface {
	GetSwaps(ctx context.Context, req Request, provider PoolDataProvider) (model.SwapInfo, error)
}

// HTTPOptimizer posts requests to an external routing service.
type HTTPOptimizer struct {
	url    string
	client *http.Client
}

var _ Optimizer = (*HTTPOptimizer)(nil)

func NewHTTPOptimizer(url string, timeout time.Duration) *HTTPOptimizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPOptimizer{url: url, client: &http.Client{Timeout: timeout}}
}

type optimizerRequest struct {
	ChainID    int64             `json:"chainId"`
	TokenIn    string            `json:"tokenIn"`
	TokenOut   string            `json:"tokenOut"`
	SwapType   string            `json:"swapType"`
	SwapAmount string            `json:"swapAmount"`
	GasPrice   string            `json:"gasPrice"`
	MaxPools   int               `json:"maxPools"`
	Pools      []json.RawMessage `json:"pools"`
}

type optimizerResponse struct {
	TokenAddresses              []string         `json:"tokenAddresses"`
	Swaps                       []model.SwapStep `json:"swaps"`
	SwapAmount                  string           `json:"swapAmount"`
	SwapAmountForSwaps          string           `json:"swapAmountForSwaps"`
	ReturnAmount                string           `json:"returnAmount"`
	ReturnAmountFromSwaps       string           `json:"returnAmountFromSwaps"`
	ReturnAmountConsideringFees string           `json:"returnAmountConsideringFees"`
	TokenIn                     string           `json:"tokenIn"`
	TokenOut                    string           `json:"tokenOut"`
	MarketSp                    string           `json:"marketSp"`
}

func (o *HTTPOptimizer) GetSwaps(ctx context.Context, req Request, provider PoolDataProvider) (model.SwapInfo, error) {
	pools := req.Pools
	if req.ForceRefresh || len(pools) == 0 {
		var err error
		if pools, err = provider.GetPools(ctx); err != nil {
			return model.SwapInfo{}, err
		}
	}

	payload := optimizerRequest{
		ChainID:    req.ChainID,
		TokenIn:    req.TokenIn,
		TokenOut:   req.TokenOut,
		SwapType:   req.SwapType.String(),
		SwapAmount: req.Amount.String(),
		GasPrice:   req.GasPrice.String(),
		MaxPools:   req.MaxPools,
		Pools:      make([]json.RawMessage, 0, len(pools)),
	}
	for _, pool := range pools {
		raw, err := poolPayload(pool)
		if err != nil {
			return model.SwapInfo{}, err
		}
		payload.Pools = append(payload.Pools, raw)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return model.SwapInfo{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return model.SwapInfo{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return model.SwapInfo{}, fmt.Errorf("query optimizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.SwapInfo{}, fmt.Errorf("optimizer returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded optimizerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return model.SwapInfo{}, fmt.Errorf("decode optimizer response: %w", err)
	}
	return decoded.swapInfo()
}

// poolPayload is the subgraph object of the pool, or the record itself
// when the pool carries none.
func poolPayload(pool model.Pool) (json.RawMessage, error) {
	if len(pool.Data) > 0 {
		return pool.Data, nil
	}
	raw, err := json.Marshal(pool)
	if err != nil {
		return nil, fmt.Errorf("encode pool %s: %w", pool.ID, err)
	}
	return raw, nil
}

func (r optimizerResponse) swapInfo() (model.SwapInfo, error) {
	info := model.SwapInfo{
		TokenAddresses: r.TokenAddresses,
		Swaps:          r.Swaps,
		TokenIn:        r.TokenIn,
		TokenOut:       r.TokenOut,
		MarketSp:       r.MarketSp,
	}
	fields := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"swapAmount", r.SwapAmount, &info.SwapAmount},
		{"swapAmountForSwaps", r.SwapAmountForSwaps, &info.SwapAmountForSwaps},
		{"returnAmount", r.ReturnAmount, &info.ReturnAmount},
		{"returnAmountFromSwaps", r.ReturnAmountFromSwaps, &info.ReturnAmountFromSwaps},
		{"returnAmountConsideringFees", r.ReturnAmountConsideringFees, &info.ReturnAmountConsideringFees},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, ok := new(big.Int).SetString(f.value, 10)
		if !ok {
			return model.SwapInfo{}, fmt.Errorf("optimizer response: invalid %s %q", f.name, f.value)
		}
		*f.dst = v
	}
	return info, nil
}
