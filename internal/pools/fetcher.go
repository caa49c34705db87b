package pools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolsAPI/internal/model"
	"poolsAPI/internal/retry"
)

// ErrFetch classifies pool source failures.
var ErrFetch = errors.New("pool fetch failed")

// DefaultPageSize is the subgraph page size used when none is configured.
const DefaultPageSize = 1000

const poolsQuery = `query pools($first: Int!, $lastId: String!) {
  pools(first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, totalShares_gt: 0 }) {
    id
    address
    poolType
    swapFee
    totalShares
    tokensList
    tokens {
      address
      balance
      decimals
      weight
      priceRate
    }
    amp
    mainIndex
    wrappedIndex
    lowerTarget
    upperTarget
    expiryTime
    unitSeconds
    principalToken
    baseToken
  }
}`

// Source returns the full pool snapshot of a network.
type Source interface {
	FetchPools(ctx context.Context, chainID int64) ([]model.Pool, error)
}

// Config controls subgraph paging and transport retries.
type Config struct {
	PageSize int
	Timeout  time.Duration
	Retry    retry.Policy
}

// Fetcher reads pools from per-network subgraph endpoints.
type Fetcher struct {
	cfg       Config
	endpoints map[int64]string
	client    *http.Client
	logger    *zap.Logger
}

var _ Source = (*Fetcher)(nil)

func NewFetcher(cfg Config, endpoints map[int64]string, logger *zap.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		endpoints: endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type poolsResponse struct {
	Data *struct {
		Pools []json.RawMessage `json:"pools"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// FetchPools pages through the subgraph until a short page and returns the
// sanitized snapshot.
func (f *Fetcher) FetchPools(ctx context.Context, chainID int64) ([]model.Pool, error) {
	endpoint, ok := f.endpoints[chainID]
	if !ok || endpoint == "" {
		return nil, fmt.Errorf("%w: no subgraph for network %d", ErrFetch, chainID)
	}

	raw := make([]json.RawMessage, 0)
	lastID := ""
	for page := 0; ; page++ {
		var items []json.RawMessage
		err := retry.Do(ctx, f.cfg.Retry, func(ctx context.Context) error {
			var err error
			items, err = f.fetchPage(ctx, endpoint, lastID)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: network %d page %d: %v", ErrFetch, chainID, page, err)
		}
		raw = append(raw, items...)
		if len(items) < f.cfg.PageSize {
			break
		}
		next, err := poolID(items[len(items)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: network %d: %v", ErrFetch, chainID, err)
		}
		lastID = next
	}

	pools, err := Sanitize(chainID, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: network %d: %v", ErrFetch, chainID, err)
	}
	f.logger.Debug("fetched pools",
		zap.Int64("network", chainID),
		zap.Int("received", len(raw)),
		zap.Int("kept", len(pools)),
	)
	return pools, nil
}

// fetchPage returns one page. Malformed answers and GraphQL errors are
// permanent; transport failures and 5xx are retried.
func (f *Fetcher) fetchPage(ctx context.Context, endpoint, lastID string) ([]json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{
		Query:     poolsQuery,
		Variables: map[string]interface{}{"first": f.cfg.PageSize, "lastId": lastID},
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query subgraph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("subgraph returned status %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	var decoded poolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Errors) > 0 {
		return nil, retry.Permanent(fmt.Errorf("subgraph error: %s", decoded.Errors[0].Message))
	}
	if decoded.Data == nil || decoded.Data.Pools == nil {
		return nil, retry.Permanent(fmt.Errorf("response has no pools"))
	}
	return decoded.Data.Pools, nil
}

func poolID(item json.RawMessage) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &head); err != nil {
		return "", fmt.Errorf("decode pool: %w", err)
	}
	if head.ID == "" {
		return "", fmt.Errorf("pool without id")
	}
	return head.ID, nil
}

// Sanitize converts subgraph pool objects into pool records. Pools without
// tokens are dropped and token addresses are checksummed, both in TokensList
// and in the tokensList and tokens[].address fields of Data.
func Sanitize(chainID int64, items []json.RawMessage) ([]model.Pool, error) {
	out := make([]model.Pool, 0, len(items))
	for _, item := range items {
		var head struct {
			ID         string   `json:"id"`
			TokensList []string `json:"tokensList"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("decode pool: %w", err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("pool without id")
		}
		if len(head.TokensList) == 0 {
			continue
		}

		tokens := make([]string, len(head.TokensList))
		for i, address := range head.TokensList {
			if !common.IsHexAddress(address) {
				return nil, fmt.Errorf("pool %s: invalid token address %q", head.ID, address)
			}
			tokens[i] = common.HexToAddress(address).Hex()
		}

		data, err := checksumPayload(item, tokens)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", head.ID, err)
		}
		out = append(out, model.Pool{
			ID:         head.ID,
			ChainID:    chainID,
			TokensList: tokens,
			Data:       data,
		})
	}
	return out, nil
}

// checksumPayload rewrites the token addresses of a subgraph pool object.
// Other fields are kept as they were received.
func checksumPayload(item json.RawMessage, tokens []string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, err
	}

	list, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	fields["tokensList"] = list

	if raw, ok := fields["tokens"]; ok && !bytes.Equal(raw, []byte("null")) {
		var entries []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode tokens: %w", err)
		}
		for _, entry := range entries {
			var address string
			if err := json.Unmarshal(entry["address"], &address); err != nil || !common.IsHexAddress(address) {
				continue
			}
			if entry["address"], err = json.Marshal(common.HexToAddress(address).Hex()); err != nil {
				return nil, err
			}
		}
		if fields["tokens"], err = json.Marshal(entries); err != nil {
			return nil, err
		}
	}

	return json.Marshal(fields)
}
