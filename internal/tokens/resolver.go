package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolsAPI/internal/chain"
	"poolsAPI/internal/metrics"
	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// fieldResult is the outcome of one metadata call.
type fieldResult[T any] struct {
	value T
	err   error
}

func (r fieldResult[T]) or(def T) T {
	if r.err != nil {
		return def
	}
	return r.value
}

// FallbackSymbol is the display symbol of a token whose symbol() failed.
func FallbackSymbol(address string) string {
	if len(address) < 42 {
		return address
	}
	return address[:4] + ".." + address[40:]
}

// Config tunes the resolver.
type Config struct {
	// Concurrency bounds parallel resolutions in ResolveAll.
	Concurrency int
}

// Resolver returns token metadata from the store, or from the chain for
// tokens the store does not know.
type Resolver struct {
	cfg     Config
	chain   chain.Reader
	store   storage.TokenRepository
	known   *KnownTokens
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewResolver(cfg Config, reader chain.Reader, store storage.TokenRepository, known *KnownTokens, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if known == nil {
		known = NewKnownTokens(DefaultKnownCacheSize, DefaultKnownTTL)
	}
	r := &Resolver{
		cfg:     cfg,
		chain:   reader,
		store:   store,
		known:   known,
		metrics: m,
		logger:  logger,
	}
	if notifier, ok := store.(storage.TokenDeleteNotifier); ok {
		notifier.OnTokenDeleted(r.Forget)
	}
	return r
}

// NormalizeAddress returns the checksum form of a hex address.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address: %s", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// Resolve returns the cached token, or resolves symbol and decimals on
// chain. A failing call falls back to its default; Resolve only fails on
// an invalid address or a store error.
func (r *Resolver) Resolve(ctx context.Context, chainID int64, address string) (model.Token, error) {
	checksum, err := NormalizeAddress(address)
	if err != nil {
		return model.Token{}, err
	}
	key := model.TokenKey{Address: checksum, ChainID: chainID}

	cached, err := r.store.GetToken(ctx, key)
	if err == nil {
		r.known.Add(key)
		return cached, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Token{}, fmt.Errorf("lookup token %s: %w", key, err)
	}

	return r.resolveOnChain(ctx, chainID, checksum), nil
}

func (r *Resolver) resolveOnChain(ctx context.Context, chainID int64, checksum string) model.Token {
	address := common.HexToAddress(checksum)
	symbol := r.symbol(ctx, chainID, address)
	decimals := r.decimals(ctx, chainID, address)

	partial := symbol.err != nil || decimals.err != nil
	if partial {
		r.logger.Debug("partial token metadata",
			zap.Int64("network", chainID),
			zap.String("token", checksum),
			zap.NamedError("symbol_error", symbol.err),
			zap.NamedError("decimals_error", decimals.err),
		)
	}
	r.metrics.TokensResolved.WithLabelValues(strconv.FormatInt(chainID, 10), strconv.FormatBool(partial)).Inc()

	return model.Token{
		Address:  checksum,
		ChainID:  chainID,
		Symbol:   symbol.or(FallbackSymbol(checksum)),
		Decimals: model.IntPtr(decimals.or(model.DefaultDecimals)),
		Price:    "",
	}
}

func (r *Resolver) symbol(ctx context.Context, chainID int64, address common.Address) fieldResult[string] {
	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return fieldResult[string]{err: fmt.Errorf("parse erc20 string abi: %w", err)}
	}
	values, err := r.chain.Call(ctx, chainID, address, stringABI, "symbol")
	if err == nil {
		if symbol, ok := values[0].(string); ok && symbol != "" {
			return fieldResult[string]{value: symbol}
		}
		err = fmt.Errorf("empty symbol")
	}

	bytes32ABI, abiErr := erc20ABIBytes32Instance()
	if abiErr != nil {
		return fieldResult[string]{err: err}
	}
	values, b32Err := r.chain.Call(ctx, chainID, address, bytes32ABI, "symbol")
	if b32Err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok && symbol != "" {
			return fieldResult[string]{value: symbol}
		}
	}
	return fieldResult[string]{err: err}
}

func (r *Resolver) decimals(ctx context.Context, chainID int64, address common.Address) fieldResult[int] {
	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return fieldResult[int]{err: fmt.Errorf("parse erc20 string abi: %w", err)}
	}
	values, err := r.chain.Call(ctx, chainID, address, stringABI, "decimals")
	if err != nil {
		return fieldResult[int]{err: err}
	}
	decimals, err := asInt(values[0])
	if err != nil {
		return fieldResult[int]{err: err}
	}
	return fieldResult[int]{value: decimals}
}

// ResolveAll resolves addresses concurrently, bounded by Concurrency.
// The result keeps the input order.
func (r *Resolver) ResolveAll(ctx context.Context, chainID int64, addresses []string) ([]model.Token, error) {
	out := make([]model.Token, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, address := range addresses {
		i, address := i, address
		g.Go(func() error {
			token, err := r.Resolve(gctx, chainID, address)
			if err != nil {
				return err
			}
			out[i] = token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveKnownTokens returns the checksummed addresses that have no token
// record yet, in input order.
func (r *Resolver) RemoveKnownTokens(ctx context.Context, chainID int64, addresses []string) ([]string, error) {
	out := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		checksum, err := NormalizeAddress(address)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[checksum]; ok {
			continue
		}
		seen[checksum] = struct{}{}

		key := model.TokenKey{Address: checksum, ChainID: chainID}
		if r.known.Contains(key) {
			continue
		}
		_, err = r.store.GetToken(ctx, key)
		if err == nil {
			r.known.Add(key)
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lookup token %s: %w", key, err)
		}
		out = append(out, checksum)
	}
	return out, nil
}

// MarkKnown records tokens that were just written to the store.
func (r *Resolver) MarkKnown(tokens []model.Token) {
	for _, token := range tokens {
		r.known.Add(token.Key())
	}
}

// Forget drops a token from the known cache. Stores that report deletes
// call it for every deleted token.
func (r *Resolver) Forget(key model.TokenKey) {
	r.known.Remove(key)
}
