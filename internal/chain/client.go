package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client wraps a set of RPC endpoints behind one handle. All reads and writes
// go to the current endpoint; Rotate moves to the next one after a failure.
// One Client is shared by the balance cache, gas policy, recovery and the
// swap executor of a single trading pair.
type Client struct {
	endpoints []string
	timeout   time.Duration
	chainID   *big.Int
	log       *zap.Logger

	mu  sync.Mutex
	idx int
	eth *ethclient.Client
}

func NewClient(endpoints []string, chainID int64, timeout time.Duration, log *zap.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one rpc endpoint is required")
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		chainID:   big.NewInt(chainID),
		log:       log,
	}, nil
}

// Dial connects the current endpoint. Safe to call repeatedly.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	if c.eth != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	eth, err := ethclient.DialContext(ctx, c.endpoints[c.idx])
	if err != nil {
		return err
	}
	c.eth = eth
	return nil
}

// Rotate closes the current connection and dials the next endpoint in order,
// wrapping around.
func (c *Client) Rotate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.idx = (c.idx + 1) % len(c.endpoints)
	c.log.Warn("rotating rpc endpoint", zap.String("endpoint", c.endpoints[c.idx]))
	return c.dialLocked(ctx)
}

func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.idx]
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

func (c *Client) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dialLocked(ctx); err != nil {
		return nil, err
	}
	return c.eth, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.HeaderByNumber(ctx, number)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.SuggestGasPrice(ctx)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.BalanceAt(ctx, account, blockNumber)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.CallContract(ctx, msg, blockNumber)
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.NonceAt(ctx, account, blockNumber)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.PendingNonceAt(ctx, account)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	eth, err := c.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return eth.TransactionReceipt(ctx, txHash)
}
