package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CoinGeckoSource is the secondary price API in the fallback chain. It quotes
// token and native USD prices in one request; the native rate is derived.
type CoinGeckoSource struct {
	baseURL           string
	tokenID           string
	nativeID          string
	fallbackNativeUSD decimal.Decimal
	http              *http.Client
}

func NewCoinGeckoSource(baseURL, tokenID, nativeID string, fallbackNativeUSD float64, timeout time.Duration) *CoinGeckoSource {
	return &CoinGeckoSource{
		baseURL:           strings.TrimRight(baseURL, "/"),
		tokenID:           tokenID,
		nativeID:          nativeID,
		fallbackNativeUSD: decimal.NewFromFloat(fallbackNativeUSD),
		http:              &http.Client{Timeout: timeout},
	}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

func (s *CoinGeckoSource) Quote(ctx context.Context) (Quote, error) {
	if s.tokenID == "" {
		return Quote{}, errors.New("coingecko token id not configured")
	}
	ids := s.tokenID
	if s.nativeID != "" {
		ids += "," + s.nativeID
	}
	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", s.baseURL, url.QueryEscape(ids))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Quote{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var prices map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return Quote{}, err
	}
	tokenUSD, err := priceFromResponse(prices, s.tokenID)
	if err != nil {
		return Quote{}, err
	}
	quote := Quote{TokenUSD: tokenUSD, Source: s.Name()}
	if nativeUSD, err := priceFromResponse(prices, s.nativeID); err == nil {
		quote.NativeUSD = nativeUSD
		quote.TokenNative = tokenUSD.Div(nativeUSD)
		return quote, nil
	}
	if !s.fallbackNativeUSD.IsPositive() {
		return Quote{}, errors.New("no native price and no fallback configured")
	}
	quote.NativeUSD = s.fallbackNativeUSD
	quote.TokenNative = tokenUSD.Div(s.fallbackNativeUSD)
	quote.Degraded = true
	return quote, nil
}

func priceFromResponse(prices map[string]map[string]json.Number, id string) (decimal.Decimal, error) {
	if id == "" {
		return decimal.Zero, errors.New("id is empty")
	}
	entry, ok := prices[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %q", id)
	}
	raw, ok := entry["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd price for %q", id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %q", id)
	}
	return price, nil
}
