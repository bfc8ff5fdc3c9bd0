package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoQuote is returned when every configured source failed or produced an
// invalid quote. Callers must treat it as "skip this tick", never as a zero
// price.
var ErrNoQuote = errors.New("no valid quote from any source")

// Quote is a unified price snapshot for the traded token. Produced fresh on
// every call and never persisted.
type Quote struct {
	// TokenUSD is the traded token price in USD.
	TokenUSD decimal.Decimal
	// NativeUSD is the chain's native asset price in USD.
	NativeUSD decimal.Decimal
	// TokenNative is the native-denominated token rate (native per token).
	TokenNative decimal.Decimal
	// Source labels which source produced the quote.
	Source string
	// Degraded marks quotes whose native USD price came from the configured
	// fallback constant instead of a live rate.
	Degraded bool
}

// Valid reports whether both USD prices are positive. Invalid quotes are
// discarded by the chain.
func (q Quote) Valid() bool {
	return q.TokenUSD.IsPositive() && q.NativeUSD.IsPositive()
}

// GasCostUSD converts a wei amount to USD using the quote's native price.
func (q Quote) GasCostUSD(wei decimal.Decimal) decimal.Decimal {
	return wei.Div(weiPerNative).Mul(q.NativeUSD)
}

var weiPerNative = decimal.New(1, 18)

// Source is a single price backend. Implementations return an error or an
// invalid quote to hand over to the next source in the chain.
type Source interface {
	Name() string
	Quote(ctx context.Context) (Quote, error)
}

// Chain queries sources in priority order and returns the first valid quote.
type Chain struct {
	sources []Source
	log     *zap.Logger
}

func NewChain(log *zap.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, log: log}
}

// Primary is the name of the highest-priority source; quotes labeled with
// any other source were served by a fallback.
func (c *Chain) Primary() string {
	if len(c.sources) == 0 {
		return ""
	}
	return c.sources[0].Name()
}

func (c *Chain) GetQuote(ctx context.Context) (Quote, error) {
	var lastErr error
	for i, source := range c.sources {
		quote, err := source.Quote(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", source.Name(), err)
			c.log.Debug("price source failed", zap.String("source", source.Name()), zap.Error(err))
			continue
		}
		if !quote.Valid() {
			lastErr = fmt.Errorf("%s: invalid quote", source.Name())
			c.log.Debug("price source returned invalid quote", zap.String("source", source.Name()))
			continue
		}
		if i > 0 {
			c.log.Info("price source fallback used", zap.String("source", source.Name()))
		}
		return quote, nil
	}
	if lastErr != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrNoQuote, lastErr)
	}
	return Quote{}, ErrNoQuote
}
