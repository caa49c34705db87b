package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrRPCUnavailable is returned when a network's RPC endpoint cannot be
// reached or does not answer in time.
var ErrRPCUnavailable = errors.New("rpc unavailable")

// Reader is what the synchronizer needs from the chain.
type Reader interface {
	CurrentBlockNumber(ctx context.Context, chainID int64) (uint64, error)
	Call(ctx context.Context, chainID int64, address common.Address, parsed abi.ABI, method string) ([]interface{}, error)
}

// Clients dials one Client per network on first use.
type Clients struct {
	urls        map[int64]string
	callTimeout time.Duration

	mu      sync.Mutex
	clients map[int64]*Client
}

var _ Reader = (*Clients)(nil)

// NewClients builds a registry from chain id to RPC URL. A zero
// callTimeout leaves deadlines to the caller's context.
func NewClients(urls map[int64]string, callTimeout time.Duration) *Clients {
	copied := make(map[int64]string, len(urls))
	for id, url := range urls {
		copied[id] = url
	}
	return &Clients{
		urls:        copied,
		callTimeout: callTimeout,
		clients:     make(map[int64]*Client),
	}
}

func (c *Clients) client(ctx context.Context, chainID int64) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}
	url, ok := c.urls[chainID]
	if !ok || url == "" {
		return nil, fmt.Errorf("%w: no rpc url for network %d", ErrRPCUnavailable, chainID)
	}
	client, err := NewClient(ctx, chainID, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial network %d: %v", ErrRPCUnavailable, chainID, err)
	}
	c.clients[chainID] = client
	return client, nil
}

func (c *Clients) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// CurrentBlockNumber returns the latest block number of a network.
func (c *Clients) CurrentBlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	client, err := c.client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return client.HeadBlock(ctx)
}

// Call runs a view method on the network's client.
func (c *Clients) Call(ctx context.Context, chainID int64, address common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	client, err := c.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return client.Call(ctx, address, parsed, method)
}

// Close closes every dialed client.
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.clients {
		client.Close()
		delete(c.clients, id)
	}
}
