package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"evm-dip-bot/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Balances is the cached native/token balance pair. Mutated only by the
// cache; consumers read it by value.
type Balances struct {
	NativeWei *big.Int
	TokenWei  *big.Int
	FetchedAt time.Time
}

func (b Balances) Age() time.Duration {
	return time.Since(b.FetchedAt)
}

// ChainReader is the slice of the RPC handle the cache needs. Rotate is
// invoked after a failed refresh so the retry hits a different endpoint.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Rotate(ctx context.Context) error
}

// Cache is a time-boxed cache over balance reads. A refresh failure retries
// once against a rotated endpoint; when both attempts fail the last good
// value is served stale with a warning so the decision loop never blocks on
// balances.
type Cache struct {
	client       ChainReader
	owner        common.Address
	token        common.Address
	retryBackoff time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	last     Balances
	haveLast bool
}

func NewCache(client ChainReader, owner, token common.Address, retryBackoff time.Duration, log *zap.Logger) *Cache {
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}
	return &Cache{
		client:       client,
		owner:        owner,
		token:        token,
		retryBackoff: retryBackoff,
		log:          log,
	}
}

// Balances returns the cached pair if younger than maxAge, refreshing it
// otherwise. An error is returned only when no value has ever been fetched.
func (c *Cache) Balances(ctx context.Context, maxAge time.Duration) (Balances, error) {
	c.mu.Lock()
	if c.haveLast && c.last.Age() <= maxAge {
		cached := c.last
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	fresh, err := c.fetch(ctx)
	if err == nil {
		c.mu.Lock()
		c.last = fresh
		c.haveLast = true
		c.mu.Unlock()
		return fresh, nil
	}
	c.log.Warn("balance refresh failed, retrying on rotated endpoint", zap.Error(err))
	if rotateErr := c.client.Rotate(ctx); rotateErr != nil {
		c.log.Warn("endpoint rotation failed", zap.Error(rotateErr))
	}
	select {
	case <-ctx.Done():
		return c.lastOrError(ctx.Err())
	case <-time.After(c.retryBackoff):
	}
	fresh, retryErr := c.fetch(ctx)
	if retryErr == nil {
		c.mu.Lock()
		c.last = fresh
		c.haveLast = true
		c.mu.Unlock()
		return fresh, nil
	}
	return c.lastOrError(retryErr)
}

func (c *Cache) lastOrError(cause error) (Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveLast {
		c.log.Warn("serving stale balances after failed refresh",
			zap.Duration("age", c.last.Age()),
			zap.Error(cause),
		)
		return c.last, nil
	}
	if cause == nil {
		cause = errors.New("balance fetch failed")
	}
	return Balances{}, cause
}

func (c *Cache) fetch(ctx context.Context) (Balances, error) {
	native, err := c.client.BalanceAt(ctx, c.owner, nil)
	if err != nil {
		return Balances{}, err
	}
	ret, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.token,
		Data: chain.BalanceOfData(c.owner),
	}, nil)
	if err != nil {
		return Balances{}, err
	}
	token, err := chain.ParseUint256(ret)
	if err != nil {
		return Balances{}, err
	}
	return Balances{NativeWei: native, TokenWei: token, FetchedAt: time.Now()}, nil
}
