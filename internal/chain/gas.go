package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// GasParams carries the fee fields for the next transaction, in wei. Either
// the EIP-1559 pair is set, or GasPrice for chains without a base fee.
type GasParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

func (p GasParams) IsLegacy() bool {
	return p.GasPrice != nil
}

// FeeCapWei is the worst-case per-gas price used for cost estimates.
func (p GasParams) FeeCapWei() *big.Int {
	if p.IsLegacy() {
		return new(big.Int).Set(p.GasPrice)
	}
	return new(big.Int).Set(p.MaxFeePerGas)
}

// CostWei is the worst-case total cost for a transaction with gasLimit gas.
func (p GasParams) CostWei(gasLimit uint64) *big.Int {
	return new(big.Int).Mul(p.FeeCapWei(), new(big.Int).SetUint64(gasLimit))
}

// HeadReader is the slice of the RPC handle the policy needs.
type HeadReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Policy computes fee parameters from the latest base fee. The configured cap
// acts as an operator floor, never as a ceiling below what inclusion needs.
type Policy struct {
	reader      HeadReader
	headroomBps int64
	capWei      *big.Int
	priorityWei *big.Int
}

func NewPolicy(reader HeadReader, headroomPct, capGwei, priorityGwei float64) *Policy {
	return &Policy{
		reader:      reader,
		headroomBps: pctToBps(headroomPct),
		capWei:      GweiToWei(capGwei),
		priorityWei: GweiToWei(priorityGwei),
	}
}

// Escalated returns a derived policy with extra headroom and a doubled tip,
// used when re-issuing a trade after a stuck transaction was replaced.
func (p *Policy) Escalated(extraHeadroomPct float64) *Policy {
	return &Policy{
		reader:      p.reader,
		headroomBps: p.headroomBps + pctToBps(extraHeadroomPct),
		capWei:      new(big.Int).Set(p.capWei),
		priorityWei: new(big.Int).Lsh(p.priorityWei, 1),
	}
}

// ComputeFee reads the latest block and returns fee parameters satisfying
// maxFeePerGas >= baseFee*(1+headroom)+1, raised to the configured cap when
// that is higher. The priority fee is clamped to the max fee.
func (p *Policy) ComputeFee(ctx context.Context) (GasParams, error) {
	header, err := p.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return GasParams{}, err
	}
	if header.BaseFee == nil {
		return p.legacyFee(ctx)
	}
	required := applyHeadroom(header.BaseFee, p.headroomBps)
	maxFee := new(big.Int).Set(required)
	if p.capWei.Cmp(maxFee) > 0 {
		maxFee = new(big.Int).Set(p.capWei)
	}
	priority := new(big.Int).Set(p.priorityWei)
	if priority.Cmp(maxFee) > 0 {
		priority = new(big.Int).Set(maxFee)
	}
	return GasParams{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: priority}, nil
}

func (p *Policy) legacyFee(ctx context.Context) (GasParams, error) {
	suggested, err := p.reader.SuggestGasPrice(ctx)
	if err != nil {
		return GasParams{}, err
	}
	price := applyHeadroom(suggested, p.headroomBps)
	if p.capWei.Cmp(price) > 0 {
		price = new(big.Int).Set(p.capWei)
	}
	return GasParams{GasPrice: price}, nil
}

// applyHeadroom computes fee*(1+headroom)+1 in integer wei.
func applyHeadroom(fee *big.Int, headroomBps int64) *big.Int {
	out := new(big.Int).Mul(fee, big.NewInt(10_000+headroomBps))
	out.Div(out, big.NewInt(10_000))
	return out.Add(out, big.NewInt(1))
}

func pctToBps(pct float64) int64 {
	bps := decimal.NewFromFloat(pct).Mul(decimal.NewFromInt(10_000))
	return bps.Round(0).IntPart()
}

// GweiToWei converts a fractional gwei amount to integer wei without binary
// floating point in the arithmetic path.
func GweiToWei(gwei float64) *big.Int {
	wei := decimal.NewFromFloat(gwei).Mul(decimal.New(1, 9))
	return wei.Round(0).BigInt()
}

// WeiToDecimal converts wei to a decimal amount of the native asset.
func WeiToDecimal(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}
