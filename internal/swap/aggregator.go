package swap

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evm-dip-bot/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// nativeToken is the aggregator placeholder for the chain's native asset.
const nativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

const (
	receiptPollInterval = 3 * time.Second
	retryHeadroomPct    = 0.10
)

var ErrConfirmTimeout = errors.New("transaction not confirmed before timeout")

// TxClient is the slice of the RPC handle the executor needs.
type TxClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FeeSource computes the fee parameters for the next transaction.
type FeeSource interface {
	ComputeFee(ctx context.Context) (chain.GasParams, error)
	Escalated(extraHeadroomPct float64) *chain.Policy
}

// Canceller replaces a stuck transaction; see chain.Recovery.
type Canceller interface {
	CancelPending(ctx context.Context) (*common.Hash, error)
}

type aggregatorQuote struct {
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	AllowanceTarget string `json:"allowanceTarget"`
	BuyAmount       string `json:"buyAmount"`
}

// Aggregator builds swaps through a 0x-style aggregator API and submits them
// on-chain with fees from the gas policy.
type Aggregator struct {
	baseURL         string
	http            *http.Client
	client          TxClient
	fees            FeeSource
	recovery        Canceller
	key             *ecdsa.PrivateKey
	owner           common.Address
	token           common.Address
	chainID         *big.Int
	swapGasLimit    uint64
	approveGasLimit uint64
	confirmTimeout  time.Duration
	journal         KV
	onCancel        func(cancelHash common.Hash)
	log             *zap.Logger
}

type AggregatorConfig struct {
	BaseURL         string
	Timeout         time.Duration
	Token           common.Address
	SwapGasLimit    uint64
	ApproveGasLimit uint64
	ConfirmTimeout  time.Duration
}

func NewAggregator(cfg AggregatorConfig, client TxClient, fees FeeSource, recovery Canceller, key *ecdsa.PrivateKey, chainID *big.Int, journal KV, log *zap.Logger) *Aggregator {
	return &Aggregator{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		http:            &http.Client{Timeout: cfg.Timeout},
		client:          client,
		fees:            fees,
		recovery:        recovery,
		key:             key,
		owner:           crypto.PubkeyToAddress(key.PublicKey),
		token:           cfg.Token,
		chainID:         chainID,
		swapGasLimit:    cfg.SwapGasLimit,
		approveGasLimit: cfg.ApproveGasLimit,
		confirmTimeout:  cfg.ConfirmTimeout,
		journal:         journal,
		log:             log,
	}
}

// OnCancel registers a callback invoked with the replacement hash each time a
// stuck transaction is cancelled. Must be set before trading starts.
func (a *Aggregator) OnCancel(fn func(cancelHash common.Hash)) {
	a.onCancel = fn
}

func (a *Aggregator) Buy(ctx context.Context, nativeAmountWei *big.Int, slippageBps int) (common.Hash, error) {
	quote, err := a.fetchQuote(ctx, nativeToken, a.token.Hex(), nativeAmountWei, slippageBps)
	if err != nil {
		return common.Hash{}, fmt.Errorf("buy quote: %w", err)
	}
	return a.submitSwap(ctx, "buy", quote)
}

func (a *Aggregator) Sell(ctx context.Context, tokenAmountWei *big.Int, slippageBps int) (common.Hash, error) {
	quote, err := a.fetchQuote(ctx, a.token.Hex(), nativeToken, tokenAmountWei, slippageBps)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sell quote: %w", err)
	}
	if err := a.ensureAllowance(ctx, quote, tokenAmountWei); err != nil {
		return common.Hash{}, fmt.Errorf("allowance: %w", err)
	}
	return a.submitSwap(ctx, "sell", quote)
}

func (a *Aggregator) fetchQuote(ctx context.Context, sellToken, buyToken string, sellAmount *big.Int, slippageBps int) (aggregatorQuote, error) {
	params := url.Values{}
	params.Set("sellToken", sellToken)
	params.Set("buyToken", buyToken)
	params.Set("sellAmount", sellAmount.String())
	params.Set("slippagePercentage", fmt.Sprintf("%g", float64(slippageBps)/10_000))
	params.Set("takerAddress", a.owner.Hex())
	endpoint := a.baseURL + "/swap/v1/quote?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return aggregatorQuote{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return aggregatorQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return aggregatorQuote{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var quote aggregatorQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return aggregatorQuote{}, err
	}
	if quote.To == "" || quote.Data == "" {
		return aggregatorQuote{}, errors.New("aggregator quote missing to/data")
	}
	return quote, nil
}

func (a *Aggregator) ensureAllowance(ctx context.Context, quote aggregatorQuote, amount *big.Int) error {
	if quote.AllowanceTarget == "" {
		return nil
	}
	spender := common.HexToAddress(quote.AllowanceTarget)
	ret, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &a.token,
		Data: chain.AllowanceData(a.owner, spender),
	}, nil)
	if err != nil {
		return err
	}
	allowance, err := chain.ParseUint256(ret)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	fees, err := a.fees.ComputeFee(ctx)
	if err != nil {
		return err
	}
	nonce, err := a.client.PendingNonceAt(ctx, a.owner)
	if err != nil {
		return err
	}
	tx := a.buildTx(nonce, a.token, big.NewInt(0), chain.ApproveData(spender, amount), a.approveGasLimit, fees)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return err
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return err
	}
	a.log.Info("approval submitted",
		zap.String("spender", spender.Hex()),
		zap.String("tx_hash", signed.Hash().Hex()),
	)
	return a.waitReceipt(ctx, signed.Hash())
}

func (a *Aggregator) submitSwap(ctx context.Context, side string, quote aggregatorQuote) (common.Hash, error) {
	hash, err := a.sendOnce(ctx, side, quote, a.fees)
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, ErrConfirmTimeout) {
		return common.Hash{}, err
	}
	// The swap is stuck behind an underpriced fee. Replace it, then re-issue
	// the trade with a temporarily bumped headroom and tip.
	if a.recovery != nil {
		if cancelHash, cancelErr := a.recovery.CancelPending(ctx); cancelErr != nil {
			a.log.Warn("stuck tx cancel failed", zap.Error(cancelErr))
		} else if cancelHash != nil {
			a.log.Info("stuck tx replaced", zap.String("cancel_hash", cancelHash.Hex()))
			if a.onCancel != nil {
				a.onCancel(*cancelHash)
			}
		}
	}
	return a.sendOnce(ctx, side, quote, a.fees.Escalated(retryHeadroomPct))
}

type feeComputer interface {
	ComputeFee(ctx context.Context) (chain.GasParams, error)
}

func (a *Aggregator) sendOnce(ctx context.Context, side string, quote aggregatorQuote, fees feeComputer) (common.Hash, error) {
	params, err := fees.ComputeFee(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := a.client.PendingNonceAt(ctx, a.owner)
	if err != nil {
		return common.Hash{}, err
	}
	to := common.HexToAddress(quote.To)
	value := big.NewInt(0)
	if quote.Value != "" {
		parsed, ok := new(big.Int).SetString(quote.Value, 10)
		if !ok {
			return common.Hash{}, fmt.Errorf("bad quote value %q", quote.Value)
		}
		value = parsed
	}
	data := common.FromHex(quote.Data)
	gasLimit := a.swapGasLimit
	if quote.Gas != "" {
		if parsed, ok := new(big.Int).SetString(quote.Gas, 10); ok && parsed.IsUint64() && parsed.Uint64() > 0 {
			gasLimit = parsed.Uint64()
		}
	}
	tx := a.buildTx(nonce, to, value, data, gasLimit, params)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	hash := signed.Hash()
	a.journalHash(ctx, side, hash)
	a.log.Info("swap submitted",
		zap.String("side", side),
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("nonce", nonce),
	)
	if err := a.waitReceipt(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

func (a *Aggregator) buildTx(nonce uint64, to common.Address, value *big.Int, data []byte, gasLimit uint64, params chain.GasParams) *types.Transaction {
	if params.IsLegacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: params.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: params.MaxPriorityFeePerGas,
		GasFeeCap: params.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}

// waitReceipt blocks until the transaction is mined or the confirm timeout
// elapses. No new action is taken while an outcome is unknown; this is the
// loop's backpressure point.
func (a *Aggregator) waitReceipt(ctx context.Context, hash common.Hash) error {
	if a.confirmTimeout <= 0 {
		return nil
	}
	deadline := time.NewTimer(a.confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			a.log.Debug("receipt poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (a *Aggregator) journalHash(ctx context.Context, side string, hash common.Hash) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Set(ctx, "swap:last:"+side, hash.Hex()); err != nil {
		a.log.Warn("failed to journal swap hash", zap.Error(err))
	}
}

// LastSubmitted reports the most recent swap hash journaled for a side, used
// at startup to surface swaps whose outcome a crash left unknown.
func (a *Aggregator) LastSubmitted(ctx context.Context, side string) (common.Hash, bool, error) {
	if a.journal == nil {
		return common.Hash{}, false, nil
	}
	raw, ok, err := a.journal.Get(ctx, "swap:last:"+side)
	if err != nil || !ok {
		return common.Hash{}, false, err
	}
	return common.HexToHash(raw), true, nil
}
