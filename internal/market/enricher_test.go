package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/pkg/logger"
)

type fakeProvider struct {
	name  string
	info  models.PartialMarketInfo
	err   error
	calls atomic.Int64
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Lookup(ctx context.Context, symbol string) (models.PartialMarketInfo, error) {
	p.calls.Add(1)
	return p.info, p.err
}

type noopMetrics struct{}

func (noopMetrics) RecordScrapePost(string)                     {}
func (noopMetrics) RecordScrapeError(string, string)            {}
func (noopMetrics) RecordResolverQueueDepth(int)                {}
func (noopMetrics) RecordResolverLatency(string, float64)       {}
func (noopMetrics) RecordProviderLatency(string, float64)       {}
func (noopMetrics) RecordProviderCooldown(string)               {}
func (noopMetrics) RecordPipelineStageDuration(string, float64) {}
func (noopMetrics) RecordEventDropped(string)                   {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func ptr[T any](v T) *T { return &v }

func newTestEnricher(t *testing.T, providers ...repository.MarketProvider) *Enricher {
	t.Helper()
	return New(providers, noopMetrics{}, testLogger(t))
}

func TestEnricher_FallbackMerge(t *testing.T) {
	p1 := &fakeProvider{name: "p1", info: models.PartialMarketInfo{Address: "Xx", PriceUsd: ptr(0.00002)}}
	p2 := &fakeProvider{name: "p2", info: models.PartialMarketInfo{LogoURL: "u"}}
	p3 := &fakeProvider{name: "p3", info: models.PartialMarketInfo{Decimals: ptr(5), LogoURL: "u2"}}

	enricher := newTestEnricher(t, p1, p2, p3)
	coins := enricher.Run(context.Background(), []models.TokenRecord{{Symbol: "BONK"}})

	require.Len(t, coins, 1)
	require.Equal(t, "Xx", coins[0].Address)
	require.NotNil(t, coins[0].PriceUsd)
	require.InDelta(t, 0.00002, *coins[0].PriceUsd, 1e-12)
	require.Equal(t, "u", coins[0].LogoURL) // earliest non-empty logo wins
	require.NotNil(t, coins[0].Decimals)
	require.Equal(t, 5, *coins[0].Decimals)
}

func TestEnricher_MissingProviderCredentialStillProducesEntry(t *testing.T) {
	p1 := &fakeProvider{name: "p1", info: models.PartialMarketInfo{}}
	// p2 disabled entirely (as if no credential) — simply absent from the chain.

	enricher := newTestEnricher(t, p1)
	records := []models.TokenRecord{{Symbol: "NOPE", Confidence: 60, Recommendation: models.RecommendationHold}}
	coins := enricher.Run(context.Background(), records)

	require.Len(t, coins, 1)
	require.Empty(t, coins[0].Address)
	require.Nil(t, coins[0].PriceUsd)
	require.Equal(t, "NOPE", coins[0].Symbol)
	require.Equal(t, models.RecommendationHold, coins[0].Recommendation)
}

func TestEnricher_EnrichmentCoverage(t *testing.T) {
	p1 := &fakeProvider{name: "p1"}
	enricher := newTestEnricher(t, p1)

	records := []models.TokenRecord{{Symbol: "AAA"}, {Symbol: "BBB"}, {Symbol: "CCC"}}
	coins := enricher.Run(context.Background(), records)
	require.Len(t, coins, len(records))
}

// Once every market field is filled, the rest of the chain is skipped.
func TestEnricher_SkipsProvidersOnceComplete(t *testing.T) {
	full := &fakeProvider{name: "p1", info: models.PartialMarketInfo{
		Address:   "Xx",
		Chain:     "solana",
		PriceUsd:  ptr(1.5),
		Change24h: ptr(-2.0),
		LogoURL:   "u",
		Decimals:  ptr(9),
	}}
	spare := &fakeProvider{name: "p2", info: models.PartialMarketInfo{LogoURL: "u2"}}

	enricher := newTestEnricher(t, full, spare)
	coins := enricher.Run(context.Background(), []models.TokenRecord{{Symbol: "AAA"}})

	require.Len(t, coins, 1)
	require.Equal(t, "u", coins[0].LogoURL)
	require.Equal(t, int64(1), full.calls.Load())
	require.Zero(t, spare.calls.Load())
}

func TestEnricher_RefreshFillsMissingFields(t *testing.T) {
	p := &fakeProvider{name: "p1", info: models.PartialMarketInfo{LogoURL: "u"}}
	enricher := newTestEnricher(t, p)

	entry := models.CoinEntry{Symbol: "AAA", Address: "Xx"}
	require.True(t, enricher.Refresh(context.Background(), &entry))
	require.Equal(t, "u", entry.LogoURL)
	require.Equal(t, "Xx", entry.Address)
}

func TestEnricher_RefreshReportsNothingNew(t *testing.T) {
	empty := &fakeProvider{name: "p1"}
	enricher := newTestEnricher(t, empty)

	entry := models.CoinEntry{Symbol: "AAA"}
	require.False(t, enricher.Refresh(context.Background(), &entry))
}

// A rate-limit signal trips the provider's cooldown: subsequent symbols
// skip it without calling Lookup again, and the rest of the chain still
// serves them.
func TestEnricher_RateLimitedProviderCoolsDown(t *testing.T) {
	limited := &fakeProvider{name: "p1", err: &repository.RateLimitError{Provider: "p1"}}
	backup := &fakeProvider{name: "p2", info: models.PartialMarketInfo{LogoURL: "u"}}

	enricher := New([]repository.MarketProvider{limited, backup}, noopMetrics{}, testLogger(t),
		WithCooldown(time.Minute), WithParallelism(1))

	coins := enricher.Run(context.Background(), []models.TokenRecord{{Symbol: "AAA"}, {Symbol: "BBB"}})
	require.Len(t, coins, 2)
	require.Equal(t, "u", coins[0].LogoURL)
	require.Equal(t, "u", coins[1].LogoURL)

	// First symbol tripped the cooldown, the second skipped the provider.
	require.Equal(t, int64(1), limited.calls.Load())
	require.Equal(t, int64(2), backup.calls.Load())
}
