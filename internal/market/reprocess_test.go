package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
)

type memCoinStore struct {
	coins []models.CoinEntry
}

func (s *memCoinStore) Replace(_ context.Context, coins []models.CoinEntry) error {
	s.coins = coins
	return nil
}

func (s *memCoinStore) All(context.Context) ([]models.CoinEntry, error) {
	out := make([]models.CoinEntry, len(s.coins))
	copy(out, s.coins)
	return out, nil
}

func (s *memCoinStore) Count(context.Context) (int, error) { return len(s.coins), nil }

func TestReprocessJob_BackfillsStoredEntry(t *testing.T) {
	p := &fakeProvider{name: "p1", info: models.PartialMarketInfo{LogoURL: "u"}}
	enricher := newTestEnricher(t, p)
	store := &memCoinStore{coins: []models.CoinEntry{{Symbol: "AAA"}, {Symbol: "BBB"}}}

	job := NewReprocessJob(enricher, store, testLogger(t))
	err := job.Handle(context.Background(), MissPayload{Provider: "p1", Symbol: "AAA"})
	require.NoError(t, err)
	require.Equal(t, "u", store.coins[0].LogoURL)
	require.Empty(t, store.coins[1].LogoURL)
}

// A symbol still unavailable surfaces an error so the queue's retry
// schedule takes over.
func TestReprocessJob_StillMissingReturnsError(t *testing.T) {
	empty := &fakeProvider{name: "p1"}
	enricher := newTestEnricher(t, empty)
	store := &memCoinStore{coins: []models.CoinEntry{{Symbol: "AAA"}}}

	job := NewReprocessJob(enricher, store, testLogger(t))
	require.Error(t, job.Handle(context.Background(), MissPayload{Provider: "p1", Symbol: "AAA"}))
}

// A symbol that dropped out of the store since the miss was recorded is
// silently discarded, not retried forever.
func TestReprocessJob_DroppedSymbolIsNoOp(t *testing.T) {
	p := &fakeProvider{name: "p1", info: models.PartialMarketInfo{LogoURL: "u"}}
	enricher := newTestEnricher(t, p)
	store := &memCoinStore{}

	job := NewReprocessJob(enricher, store, testLogger(t))
	require.NoError(t, job.Handle(context.Background(), MissPayload{Provider: "p1", Symbol: "GONE"}))
	require.Zero(t, p.calls.Load())
}
