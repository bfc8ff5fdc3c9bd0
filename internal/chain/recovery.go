package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const selfTransferGas = 21_000

// RecoveryClient is the slice of the RPC handle the recovery needs.
type RecoveryClient interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Recovery replaces a stuck transaction with a zero-value self-transfer at
// the lowest unconfirmed nonce. The replacement fee is the cheapest fee
// guaranteed to out-bid the underpriced original, not the cheapest fee the
// network would accept in isolation.
type Recovery struct {
	client      RecoveryClient
	key         *ecdsa.PrivateKey
	address     common.Address
	chainID     *big.Int
	headroomBps int64
	tipWei      *big.Int
	log         *zap.Logger
}

func NewRecovery(client RecoveryClient, key *ecdsa.PrivateKey, chainID *big.Int, smallHeadroomPct, tipGwei float64, log *zap.Logger) *Recovery {
	return &Recovery{
		client:      client,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		headroomBps: pctToBps(smallHeadroomPct),
		tipWei:      GweiToWei(tipGwei),
		log:         log,
	}
}

// CancelPending returns nil when there is no pending nonce gap; otherwise it
// broadcasts the replacement and returns its hash. The caller may then
// re-issue the intended trade with a bumped fee.
func (r *Recovery) CancelPending(ctx context.Context) (*common.Hash, error) {
	latest, err := r.client.NonceAt(ctx, r.address, nil)
	if err != nil {
		return nil, err
	}
	pending, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return nil, err
	}
	if pending <= latest {
		return nil, nil
	}
	header, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	var tx *types.Transaction
	if header.BaseFee != nil {
		required := applyHeadroom(header.BaseFee, r.headroomBps)
		maxFee := new(big.Int).Add(required, r.tipWei)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   r.chainID,
			Nonce:     latest,
			GasTipCap: new(big.Int).Set(r.tipWei),
			GasFeeCap: maxFee,
			Gas:       selfTransferGas,
			To:        &r.address,
			Value:     big.NewInt(0),
		})
	} else {
		suggested, err := r.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		price := applyHeadroom(suggested, r.headroomBps)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    latest,
			GasPrice: price,
			Gas:      selfTransferGas,
			To:       &r.address,
			Value:    big.NewInt(0),
		})
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return nil, err
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	hash := signed.Hash()
	r.log.Warn("replaced stuck transaction",
		zap.Uint64("nonce", latest),
		zap.Uint64("pending_nonce", pending),
		zap.String("tx_hash", hash.Hex()),
	)
	return &hash, nil
}
