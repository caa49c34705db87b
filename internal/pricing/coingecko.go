package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateLimited is returned when the oracle answers 429.
var ErrRateLimited = errors.New("price oracle rate limited")

// RateLimitError carries the server's Retry-After hint, zero when absent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusError is a non-200, non-429 oracle response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("price oracle returned status %d", e.StatusCode)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// Oracle quotes token prices in a currency.
type Oracle interface {
	// TokenPrices returns the quote per lowercase contract address.
	// Tokens without data are absent from the map.
	TokenPrices(ctx context.Context, platformID, currency string, addresses []string) (map[string]decimal.Decimal, error)
}

// CoinGecko implements Oracle with the simple/token_price endpoint.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Oracle = (*CoinGecko)(nil)

// NewCoinGecko creates a client for baseURL, e.g.
// https://api.coingecko.com/api/v3/simple/token_price/.
func NewCoinGecko(baseURL, apiKey string, timeout time.Duration) *CoinGecko {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *CoinGecko) TokenPrices(ctx context.Context, platformID, currency string, addresses []string) (map[string]decimal.Decimal, error) {
	if platformID == "" {
		return nil, fmt.Errorf("platform id is required")
	}

	params := url.Values{}
	params.Add("contract_addresses", strings.Join(addresses, ","))
	params.Add("vs_currencies", currency)

	fullURL := fmt.Sprintf("%s/%s?%s", g.baseURL, url.PathEscape(platformID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var raw map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	currency = strings.ToLower(currency)
	prices := make(map[string]decimal.Decimal, len(raw))
	for address, quotes := range raw {
		price, ok := quotes[currency]
		if !ok {
			continue
		}
		prices[strings.ToLower(address)] = price
	}
	return prices, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
