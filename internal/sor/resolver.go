package sor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

var (
	// ErrTimeout is returned when a route query outlives its deadline.
	ErrTimeout = errors.New("route request timed out")
	// ErrInvalidOrderKind is returned for an orderKind other than sell or buy.
	ErrInvalidOrderKind = errors.New("invalid order kind")
	// ErrInvalidAmount is returned when amount or gasPrice is not a base-10 integer.
	ErrInvalidAmount = errors.New("invalid amount")
)

const (
	DefaultTimeout  = 29 * time.Second
	DefaultMaxPools = 10
)

// Store is the part of the cache a route query reads.
type Store interface {
	storage.PoolRepository
	storage.TokenRepository
}

type Config struct {
	Timeout      time.Duration
	MaxPools     int
	ForceRefresh bool
}

// Resolver answers route queries from the cached pool snapshot.
type Resolver struct {
	cfg       Config
	store     Store
	optimizer Optimizer
	logger    *zap.Logger
}

func NewResolver(cfg Config, store Store, optimizer Optimizer, logger *zap.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, store: store, optimizer: optimizer, logger: logger}
}

// SwapTypeForOrderKind maps sell to exact-in and buy to exact-out.
func SwapTypeForOrderKind(kind string) (model.SwapType, error) {
	switch strings.ToLower(kind) {
	case "sell":
		return model.SwapExactIn, nil
	case "buy":
		return model.SwapExactOut, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrderKind, kind)
	}
}

func parseAmount(name, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidAmount, name, value)
	}
	return v, nil
}

// ResolveSwap routes an order over the network's cached pools.
func (r *Resolver) ResolveSwap(ctx context.Context, chainID int64, order model.Order) (model.SerializedSwapInfo, error) {
	swapType, err := SwapTypeForOrderKind(order.OrderKind)
	if err != nil {
		return model.SerializedSwapInfo{}, err
	}
	amount, err := parseAmount("amount", order.Amount)
	if err != nil {
		return model.SerializedSwapInfo{}, err
	}
	gasPrice, err := parseAmount("gasPrice", order.GasPrice)
	if err != nil {
		return model.SerializedSwapInfo{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	info, err := r.resolve(ctx, chainID, order, swapType, amount, gasPrice)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.SerializedSwapInfo{}, fmt.Errorf("%w after %s: %v", ErrTimeout, r.cfg.Timeout, err)
		}
		return model.SerializedSwapInfo{}, err
	}
	return info.Serialize(), nil
}

func (r *Resolver) resolve(ctx context.Context, chainID int64, order model.Order, swapType model.SwapType, amount, gasPrice *big.Int) (model.SwapInfo, error) {
	snapshot, err := r.store.PoolsByNetwork(ctx, chainID)
	if err != nil {
		return model.SwapInfo{}, fmt.Errorf("read pools: %w", err)
	}

	sellSymbol, err := r.displaySymbol(ctx, chainID, order.SellToken)
	if err != nil {
		return model.SwapInfo{}, err
	}
	buySymbol, err := r.displaySymbol(ctx, chainID, order.BuyToken)
	if err != nil {
		return model.SwapInfo{}, err
	}

	r.logger.Info("resolving swap",
		zap.Int64("network", chainID),
		zap.String("kind", swapType.String()),
		zap.String("amount", amount.String()),
		zap.String("sell", sellSymbol),
		zap.String("buy", buySymbol),
		zap.Int("pools", len(snapshot)),
	)

	req := Request{
		ChainID:      chainID,
		TokenIn:      order.SellToken,
		TokenOut:     order.BuyToken,
		SwapType:     swapType,
		Amount:       amount,
		GasPrice:     gasPrice,
		MaxPools:     r.cfg.MaxPools,
		Pools:        snapshot,
		ForceRefresh: r.cfg.ForceRefresh,
		SellSymbol:   sellSymbol,
		BuySymbol:    buySymbol,
	}
	info, err := r.optimizer.GetSwaps(ctx, req, StorePools{Store: r.store, ChainID: chainID})
	if err != nil {
		return model.SwapInfo{}, fmt.Errorf("get swaps: %w", err)
	}
	return info, nil
}

// displaySymbol is the cached symbol of a token, or the address itself.
func (r *Resolver) displaySymbol(ctx context.Context, chainID int64, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return address, nil
	}
	key := model.TokenKey{Address: common.HexToAddress(address).Hex(), ChainID: chainID}
	token, err := r.store.GetToken(ctx, key)
	switch {
	case err == nil && token.Symbol != "":
		return token.Symbol, nil
	case err == nil, errors.Is(err, storage.ErrNotFound):
		return address, nil
	default:
		return "", fmt.Errorf("read token %s: %w", key, err)
	}
}
