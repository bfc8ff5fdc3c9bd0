package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Executor submits swaps for one trading pair. It owns approval management,
// transaction building/signing and submission; the engine only decides when
// and how much.
type Executor interface {
	// Buy spends nativeAmountWei of the native asset for the traded token.
	Buy(ctx context.Context, nativeAmountWei *big.Int, slippageBps int) (common.Hash, error)
	// Sell swaps tokenAmountWei of the traded token back to the native asset.
	Sell(ctx context.Context, tokenAmountWei *big.Int, slippageBps int) (common.Hash, error)
}

// KV is an optional crash journal for submitted swap hashes. The history
// store satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
