package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	xhttp "tokenpulse/pkg/http"
)

// JupiterListProvider is the chain's registry-style provider: Jupiter's
// periodically-refreshed full token list. It refreshes the full list at
// most once per refreshInterval rather than per lookup, since the list is
// tens of megabytes.
type JupiterListProvider struct {
	client          *xhttp.Client
	url             string
	apiKey          string
	refreshInterval time.Duration

	mu        sync.Mutex
	bySymbol  map[string]jupiterToken
	fetchedAt time.Time
}

type jupiterToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	LogoURI  string `json:"logoURI"`
	Decimals int    `json:"decimals"`
}

// NewJupiterListProvider builds the provider. apiKey is optional: the
// public list endpoint works keyless, a key only raises the rate limit.
func NewJupiterListProvider(client *xhttp.Client, url, apiKey string) *JupiterListProvider {
	if url == "" {
		url = "https://token.jup.ag/all"
	}
	return &JupiterListProvider{client: client, url: url, apiKey: apiKey, refreshInterval: 10 * time.Minute}
}

func (p *JupiterListProvider) Name() string { return "jupiter" }

func (p *JupiterListProvider) Lookup(ctx context.Context, symbol string) (models.PartialMarketInfo, error) {
	if err := p.ensureFresh(ctx); err != nil {
		return models.PartialMarketInfo{}, err
	}

	p.mu.Lock()
	tok, ok := p.bySymbol[strings.ToUpper(symbol)]
	p.mu.Unlock()
	if !ok {
		return models.PartialMarketInfo{}, nil
	}

	decimals := tok.Decimals
	return models.PartialMarketInfo{
		Address:  tok.Address,
		Chain:    "solana",
		LogoURL:  tok.LogoURI,
		Decimals: &decimals,
	}, nil
}

// ResolveAddress exposes the provider's cached symbol→address mapping so
// MoralisProvider (which is address-keyed, not symbol-keyed) can look up a
// mint address without duplicating a fetch of the full token list.
func (p *JupiterListProvider) ResolveAddress(symbol string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, ok := p.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return "", false
	}
	return tok.Address, true
}

func (p *JupiterListProvider) ensureFresh(ctx context.Context) error {
	p.mu.Lock()
	stale := time.Since(p.fetchedAt) > p.refreshInterval || p.bySymbol == nil
	p.mu.Unlock()
	if !stale {
		return nil
	}

	reqOpts := &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: p.url}
	if p.apiKey != "" {
		reqOpts.Headers = map[string]string{"x-api-key": p.apiKey}
	}
	resp, err := p.client.SendRequest(ctx, reqOpts)
	if err != nil {
		return fmt.Errorf("jupiter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &repository.RateLimitError{Provider: "jupiter"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("jupiter: status %d: %s", resp.StatusCode, body)
	}

	var tokens []jupiterToken
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("jupiter: decode: %w", err)
	}

	bySymbol := make(map[string]jupiterToken, len(tokens))
	for _, t := range tokens {
		bySymbol[strings.ToUpper(t.Symbol)] = t
	}

	p.mu.Lock()
	p.bySymbol = bySymbol
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return nil
}
