package store

import (
	"context"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
)

// SentimentStore is the SentimentAggregator's output document. Its merge
// rule is full replacement: every aggregator pass recomputes every
// TokenRecord from scratch.
type SentimentStore struct {
	docs *JSONStore[models.TokenRecord]
}

var _ repository.SentimentStore = (*SentimentStore)(nil)

func NewSentimentStore(path string) (*SentimentStore, error) {
	docs, err := NewJSONStore[models.TokenRecord](path)
	if err != nil {
		return nil, err
	}
	return &SentimentStore{docs: docs}, nil
}

func (s *SentimentStore) Replace(ctx context.Context, records []models.TokenRecord) error {
	return s.docs.Write(records)
}

func (s *SentimentStore) All(ctx context.Context) ([]models.TokenRecord, error) {
	return s.docs.Read()
}
