package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the RPC connection of one network.
type Client struct {
	chainID   int64
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient dials rpcURL for chainID.
func NewClient(ctx context.Context, chainID int64, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		chainID:   chainID,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// HeadBlock returns the number of the latest block.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	block, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number on network %d: %v", ErrRPCUnavailable, c.chainID, err)
	}
	return block, nil
}

// Call runs a no-argument view method of address at the latest block and
// returns its unpacked outputs.
func (c *Client) Call(ctx context.Context, address common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, address.Hex(), err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}
