package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"poolsAPI/internal/model"
)

// ErrNotFound is returned by Get calls for a missing record.
var ErrNotFound = errors.New("record not found")

// ErrStorage classifies backend failures. Match it with errors.Is.
var ErrStorage = errors.New("storage error")

// Error wraps a backend failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrStorage
}

// Wrap returns nil for a nil err, err itself for ErrNotFound, and a
// storage Error otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// PoolRepository stores pools keyed by (id, chain id).
type PoolRepository interface {
	GetPool(ctx context.Context, key model.PoolKey) (model.Pool, error)
	PutPool(ctx context.Context, pool model.Pool) error
	PutPools(ctx context.Context, pools []model.Pool) error
	PoolsByNetwork(ctx context.Context, chainID int64) ([]model.Pool, error)
	DeletePool(ctx context.Context, key model.PoolKey) error
}

// TokenRepository stores tokens keyed by (address, chain id).
type TokenRepository interface {
	GetToken(ctx context.Context, key model.TokenKey) (model.Token, error)
	PutToken(ctx context.Context, token model.Token) error
	PutTokens(ctx context.Context, tokens []model.Token) error
	TokensByNetwork(ctx context.Context, chainID int64) ([]model.Token, error)
	DeleteToken(ctx context.Context, key model.TokenKey) error
}

// Store is the cache shared by the synchronizer and the API.
type Store interface {
	PoolRepository
	TokenRepository
	Close()
}

// Capacity carries backend sizing hints. Read bounds concurrent readers
// (connection pool size), Write bounds records per batch round trip.
type Capacity struct {
	Read  int
	Write int
}

// DefaultCapacity is ten readers and ten records per write batch.
var DefaultCapacity = Capacity{Read: 10, Write: 10}

// Normalize fills zero values with defaults.
func (c Capacity) Normalize() Capacity {
	if c.Read <= 0 {
		c.Read = DefaultCapacity.Read
	}
	if c.Write <= 0 {
		c.Write = DefaultCapacity.Write
	}
	return c
}

// Chunks splits n records into [start, end) ranges of at most size.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	out := make([][2]int, 0, (n+size-1)/max(size, 1))
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// TokenDeleteNotifier is implemented by stores that report token deletes
// made through them.
type TokenDeleteNotifier interface {
	OnTokenDeleted(fn func(model.TokenKey))
}

// DeleteHooks holds token delete callbacks. Stores embed it and call
// TokenDeleted after a successful delete.
type DeleteHooks struct {
	mu    sync.RWMutex
	hooks []func(model.TokenKey)
}

func (h *DeleteHooks) OnTokenDeleted(fn func(model.TokenKey)) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *DeleteHooks) TokenDeleted(key model.TokenKey) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(key)
	}
}
