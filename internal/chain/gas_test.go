package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
)

type fakeHeadReader struct {
	baseFee  *big.Int
	gasPrice *big.Int
	headErr  error
}

func (f *fakeHeadReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeHeadReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return nil, errors.New("no gas price")
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func TestComputeFeeExceedsBaseFee(t *testing.T) {
	baseFee := GweiToWei(50)
	reader := &fakeHeadReader{baseFee: baseFee}
	policy := NewPolicy(reader, 0.20, 30, 1.5)

	params, err := policy.ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.IsLegacy() {
		t.Fatalf("expected dynamic fee params")
	}
	// 50 gwei * 1.20 + 1 wei; the 30 gwei cap is below base fee and must not
	// pin the max fee under it.
	want := new(big.Int).Add(GweiToWei(60), big.NewInt(1))
	if params.MaxFeePerGas.Cmp(want) != 0 {
		t.Fatalf("expected max fee %s, got %s", want, params.MaxFeePerGas)
	}
	if params.MaxFeePerGas.Cmp(baseFee) <= 0 {
		t.Fatalf("max fee %s must exceed base fee %s", params.MaxFeePerGas, baseFee)
	}
	if params.MaxPriorityFeePerGas.Cmp(GweiToWei(1.5)) != 0 {
		t.Fatalf("expected priority 1.5 gwei, got %s", params.MaxPriorityFeePerGas)
	}
}

func TestComputeFeeCapActsAsFloor(t *testing.T) {
	reader := &fakeHeadReader{baseFee: GweiToWei(10)}
	policy := NewPolicy(reader, 0.20, 100, 1.5)

	params, err := policy.ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MaxFeePerGas.Cmp(GweiToWei(100)) != 0 {
		t.Fatalf("expected cap 100 gwei as max fee, got %s", params.MaxFeePerGas)
	}
}

func TestComputeFeePriorityClampedToMaxFee(t *testing.T) {
	reader := &fakeHeadReader{baseFee: big.NewInt(100)}
	policy := NewPolicy(reader, 0, 0, 5)

	params, err := policy.ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.MaxPriorityFeePerGas.Cmp(params.MaxFeePerGas) > 0 {
		t.Fatalf("priority %s exceeds max fee %s", params.MaxPriorityFeePerGas, params.MaxFeePerGas)
	}
}

func TestComputeFeeLegacyFallback(t *testing.T) {
	reader := &fakeHeadReader{gasPrice: GweiToWei(8)}
	policy := NewPolicy(reader, 0.25, 0, 1)

	params, err := policy.ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !params.IsLegacy() {
		t.Fatalf("expected legacy params for chain without base fee")
	}
	want := new(big.Int).Add(GweiToWei(10), big.NewInt(1))
	if params.GasPrice.Cmp(want) != 0 {
		t.Fatalf("expected gas price %s, got %s", want, params.GasPrice)
	}
}

func TestEscalatedBumpsHeadroomAndTip(t *testing.T) {
	reader := &fakeHeadReader{baseFee: GweiToWei(100)}
	policy := NewPolicy(reader, 0.10, 0, 2)

	base, err := policy.ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bumped, err := policy.Escalated(0.10).ComputeFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bumped.MaxFeePerGas.Cmp(base.MaxFeePerGas) <= 0 {
		t.Fatalf("escalated max fee %s must exceed base %s", bumped.MaxFeePerGas, base.MaxFeePerGas)
	}
	if bumped.MaxPriorityFeePerGas.Cmp(GweiToWei(4)) != 0 {
		t.Fatalf("expected doubled tip 4 gwei, got %s", bumped.MaxPriorityFeePerGas)
	}
}

func TestCostWei(t *testing.T) {
	params := GasParams{MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(1)}
	if got := params.CostWei(21_000); got.Cmp(big.NewInt(2_100_000)) != 0 {
		t.Fatalf("expected cost 2100000, got %s", got)
	}
}

func TestGweiToWeiFractional(t *testing.T) {
	if got := GweiToWei(1.5); got.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Fatalf("expected 1.5 gwei = 1500000000 wei, got %s", got)
	}
}
