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

// AddressResolver looks up a symbol's on-chain mint address from an
// earlier step in the provider chain. MoralisProvider's metadata endpoint
// is address-keyed, not symbol-keyed, so it needs one to do anything.
type AddressResolver func(symbol string) (address string, ok bool)

// MoralisProvider is the chain's metadata-API-style provider: GET
// https://solana-gateway.moralis.io/token/mainnet/{address}/metadata
// returning name/symbol/logo/decimals/supply.
type MoralisProvider struct {
	client     *xhttp.Client
	gatewayURL string
	apiKey     string
	resolve    AddressResolver
}

// NewMoralisProvider returns nil if apiKey is empty: an absent credential
// disables exactly this provider.
func NewMoralisProvider(client *xhttp.Client, gatewayURL, apiKey string, resolve AddressResolver) *MoralisProvider {
	if apiKey == "" {
		return nil
	}
	if gatewayURL == "" {
		gatewayURL = "https://solana-gateway.moralis.io"
	}
	return &MoralisProvider{client: client, gatewayURL: gatewayURL, apiKey: apiKey, resolve: resolve}
}

func (p *MoralisProvider) Name() string { return "moralis" }

type moralisMetadata struct {
	Symbol   string `json:"symbol"`
	Logo     string `json:"logo"`
	Decimals string `json:"decimals"`
}

func (p *MoralisProvider) Lookup(ctx context.Context, symbol string) (models.PartialMarketInfo, error) {
	address, ok := p.resolve(symbol)
	if !ok {
		return models.PartialMarketInfo{}, nil
	}

	url := fmt.Sprintf("%s/token/mainnet/%s/metadata", p.gatewayURL, address)
	resp, err := p.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     url,
		Headers: map[string]string{"X-API-Key": p.apiKey, "Accept": "application/json"},
	})
	if err != nil {
		return models.PartialMarketInfo{}, fmt.Errorf("moralis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.PartialMarketInfo{}, &repository.RateLimitError{Provider: "moralis"}
	}
	if resp.StatusCode == http.StatusNotFound {
		return models.PartialMarketInfo{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return models.PartialMarketInfo{}, fmt.Errorf("moralis: status %d: %s", resp.StatusCode, body)
	}

	var meta moralisMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return models.PartialMarketInfo{}, fmt.Errorf("moralis: decode: %w", err)
	}

	var decimals *int
	if meta.Decimals != "" {
		var d int
		if _, err := fmt.Sscanf(meta.Decimals, "%d", &d); err == nil {
			decimals = &d
		}
	}

	return models.PartialMarketInfo{
		Address:  address,
		Chain:    "solana",
		LogoURL:  meta.Logo,
		Decimals: decimals,
	}, nil
}
