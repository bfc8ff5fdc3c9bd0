package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

type fakeRecoveryClient struct {
	latest  uint64
	pending uint64
	baseFee *big.Int
	sent    []*types.Transaction
}

func (f *fakeRecoveryClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return f.latest, nil
}

func (f *fakeRecoveryClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.pending, nil
}

func (f *fakeRecoveryClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeRecoveryClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeRecoveryClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func TestCancelPendingNoGap(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	client := &fakeRecoveryClient{latest: 5, pending: 5, baseFee: GweiToWei(10)}
	recovery := NewRecovery(client, key, big.NewInt(1), 0.125, 2, zap.NewNop())

	hash, err := recovery.CancelPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != nil {
		t.Fatalf("expected nil hash when nothing is stuck")
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no transaction sent, got %d", len(client.sent))
	}
}

func TestCancelPendingReplacesLowestStuckNonce(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	baseFee := GweiToWei(40)
	client := &fakeRecoveryClient{latest: 4, pending: 5, baseFee: baseFee}
	recovery := NewRecovery(client, key, big.NewInt(1), 0.125, 2, zap.NewNop())

	hash, err := recovery.CancelPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == nil {
		t.Fatalf("expected replacement hash")
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(client.sent))
	}
	tx := client.sent[0]
	if tx.Nonce() != 4 {
		t.Fatalf("replacement must use the latest confirmed nonce 4, got %d", tx.Nonce())
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("replacement must carry zero value, got %s", tx.Value())
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	if tx.To() == nil || *tx.To() != owner {
		t.Fatalf("replacement must be a self-transfer")
	}
	if tx.Gas() != 21_000 {
		t.Fatalf("expected 21000 gas, got %d", tx.Gas())
	}
	// max fee = baseFee*1.125 + 1 + tip
	want := new(big.Int).Add(applyHeadroom(baseFee, 1250), GweiToWei(2))
	if tx.GasFeeCap().Cmp(want) != 0 {
		t.Fatalf("expected fee cap %s, got %s", want, tx.GasFeeCap())
	}
	if tx.GasTipCap().Cmp(GweiToWei(2)) != 0 {
		t.Fatalf("expected tip 2 gwei, got %s", tx.GasTipCap())
	}
}

func TestCancelPendingLegacyChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	client := &fakeRecoveryClient{latest: 1, pending: 2}
	recovery := NewRecovery(client, key, big.NewInt(1), 0.125, 2, zap.NewNop())

	hash, err := recovery.CancelPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == nil {
		t.Fatalf("expected replacement hash")
	}
	tx := client.sent[0]
	if tx.Type() != types.LegacyTxType {
		t.Fatalf("expected legacy tx on chain without base fee, got type %d", tx.Type())
	}
	want := applyHeadroom(big.NewInt(1_000_000_000), 1250)
	if tx.GasPrice().Cmp(want) != 0 {
		t.Fatalf("expected gas price %s, got %s", want, tx.GasPrice())
	}
}
