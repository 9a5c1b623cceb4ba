package store

import (
	"context"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
)

// CoinStore is the MarketEnricher's output document, replaced in full on
// every pipeline pass.
type CoinStore struct {
	docs *JSONStore[models.CoinEntry]
}

var _ repository.CoinStore = (*CoinStore)(nil)

func NewCoinStore(path string) (*CoinStore, error) {
	docs, err := NewJSONStore[models.CoinEntry](path)
	if err != nil {
		return nil, err
	}
	return &CoinStore{docs: docs}, nil
}

func (s *CoinStore) Replace(ctx context.Context, coins []models.CoinEntry) error {
	return s.docs.Write(coins)
}

func (s *CoinStore) All(ctx context.Context) ([]models.CoinEntry, error) {
	return s.docs.Read()
}

func (s *CoinStore) Count(ctx context.Context) (int, error) {
	coins, err := s.docs.Read()
	if err != nil {
		return 0, err
	}
	return len(coins), nil
}
