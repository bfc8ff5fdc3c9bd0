package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type dsPair struct {
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dsResponse struct {
	Pair  *dsPair  `json:"pair"`
	Pairs []dsPair `json:"pairs"`
}

// DexScreenerClient is shared by the direct-pair and token-search sources.
type DexScreenerClient struct {
	baseURL string
	http    *http.Client
}

func NewDexScreenerClient(baseURL string, timeout time.Duration) *DexScreenerClient {
	return &DexScreenerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *DexScreenerClient) get(ctx context.Context, path string) (dsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return dsResponse{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return dsResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return dsResponse{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data dsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return dsResponse{}, err
	}
	return data, nil
}

// PairSource queries a known pool pair directly.
type PairSource struct {
	client            *DexScreenerClient
	chain             string
	pairAddress       string
	fallbackNativeUSD decimal.Decimal
}

func NewPairSource(client *DexScreenerClient, chain, pairAddress string, fallbackNativeUSD float64) *PairSource {
	return &PairSource{
		client:            client,
		chain:             chain,
		pairAddress:       pairAddress,
		fallbackNativeUSD: decimal.NewFromFloat(fallbackNativeUSD),
	}
}

func (s *PairSource) Name() string { return "dexscreener_pair" }

func (s *PairSource) Quote(ctx context.Context) (Quote, error) {
	if s.pairAddress == "" {
		return Quote{}, errors.New("pair address not configured")
	}
	resp, err := s.client.get(ctx, fmt.Sprintf("/latest/dex/pairs/%s/%s", s.chain, s.pairAddress))
	if err != nil {
		return Quote{}, err
	}
	pair := resp.Pair
	if pair == nil && len(resp.Pairs) > 0 {
		pair = &resp.Pairs[0]
	}
	if pair == nil {
		return Quote{}, errors.New("pair not found")
	}
	return quoteFromPair(*pair, s.Name(), s.fallbackNativeUSD)
}

// TokenSearchSource looks the token up and picks the pool with the highest
// reported USD liquidity. Ties keep the source-returned order.
type TokenSearchSource struct {
	client            *DexScreenerClient
	tokenAddress      string
	fallbackNativeUSD decimal.Decimal
}

func NewTokenSearchSource(client *DexScreenerClient, tokenAddress string, fallbackNativeUSD float64) *TokenSearchSource {
	return &TokenSearchSource{
		client:            client,
		tokenAddress:      tokenAddress,
		fallbackNativeUSD: decimal.NewFromFloat(fallbackNativeUSD),
	}
}

func (s *TokenSearchSource) Name() string { return "dexscreener_token" }

func (s *TokenSearchSource) Quote(ctx context.Context) (Quote, error) {
	resp, err := s.client.get(ctx, "/latest/dex/tokens/"+s.tokenAddress)
	if err != nil {
		return Quote{}, err
	}
	if len(resp.Pairs) == 0 {
		return Quote{}, errors.New("no pools for token")
	}
	best := resp.Pairs[0]
	for _, pair := range resp.Pairs[1:] {
		// Strictly greater keeps the first pool on equal liquidity.
		if pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}
	return quoteFromPair(best, s.Name(), s.fallbackNativeUSD)
}

func quoteFromPair(pair dsPair, source string, fallbackNativeUSD decimal.Decimal) (Quote, error) {
	tokenUSD, err := decimal.NewFromString(strings.TrimSpace(pair.PriceUSD))
	if err != nil {
		return Quote{}, fmt.Errorf("bad priceUsd %q: %w", pair.PriceUSD, err)
	}
	if !tokenUSD.IsPositive() {
		return Quote{}, fmt.Errorf("non-positive priceUsd %q", pair.PriceUSD)
	}
	quote := Quote{TokenUSD: tokenUSD, Source: source}
	if rate, err := decimal.NewFromString(strings.TrimSpace(pair.PriceNative)); err == nil && rate.IsPositive() {
		quote.TokenNative = rate
		quote.NativeUSD = tokenUSD.Div(rate)
		return quote, nil
	}
	if !fallbackNativeUSD.IsPositive() {
		return Quote{}, errors.New("no native rate and no fallback native price")
	}
	quote.NativeUSD = fallbackNativeUSD
	quote.TokenNative = tokenUSD.Div(fallbackNativeUSD)
	quote.Degraded = true
	return quote, nil
}
