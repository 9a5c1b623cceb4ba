package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	xhttp "tokenpulse/pkg/http"
)

// DexScreenerProvider is the chain's first, aggregator-style provider:
// DexScreener's public search API, keyed by keyless by default.
type DexScreenerProvider struct {
	client  *xhttp.Client
	baseURL string
}

func NewDexScreenerProvider(client *xhttp.Client, baseURL string) *DexScreenerProvider {
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com/latest/dex/search"
	}
	return &DexScreenerProvider{client: client, baseURL: baseURL}
}

func (p *DexScreenerProvider) Name() string { return "dexscreener" }

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

type dexScreenerPair struct {
	ChainID     string `json:"chainId"`
	BaseToken   dexScreenerToken `json:"baseToken"`
	PriceUsd    string `json:"priceUsd"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Info struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
}

type dexScreenerToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals *int   `json:"decimals,omitempty"`
}

func (p *DexScreenerProvider) Lookup(ctx context.Context, symbol string) (models.PartialMarketInfo, error) {
	resp, err := p.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         p.baseURL,
		QueryParams: map[string][]string{"q": {symbol}},
	})
	if err != nil {
		return models.PartialMarketInfo{}, fmt.Errorf("dexscreener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.PartialMarketInfo{}, &repository.RateLimitError{Provider: "dexscreener"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return models.PartialMarketInfo{}, fmt.Errorf("dexscreener: status %d: %s", resp.StatusCode, body)
	}

	var parsed dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.PartialMarketInfo{}, fmt.Errorf("dexscreener: decode: %w", err)
	}

	for _, pair := range parsed.Pairs {
		if pair.BaseToken.Symbol != symbol {
			continue
		}
		var price *float64
		if pair.PriceUsd != "" {
			var v float64
			if _, err := fmt.Sscanf(pair.PriceUsd, "%f", &v); err == nil {
				price = &v
			}
		}
		change := pair.PriceChange.H24
		return models.PartialMarketInfo{
			Address:   pair.BaseToken.Address,
			Chain:     pair.ChainID,
			PriceUsd:  price,
			Change24h: &change,
			LogoURL:   pair.Info.ImageURL,
			Decimals:  pair.BaseToken.Decimals,
		}, nil
	}
	return models.PartialMarketInfo{}, nil
}
