package market

import (
	"context"
	"fmt"

	"tokenpulse/internal/domain/repository"
	"tokenpulse/pkg/logger"
	"tokenpulse/pkg/queue"
)

// MissType is the backlog message type recorded when a provider lookup
// yields nothing for a symbol.
const MissType = "market-miss"

// MissPayload is one backlog entry: which provider missed which symbol.
type MissPayload struct {
	Provider string `json:"provider"`
	Symbol   string `json:"symbol"`
}

// ReprocessJob drains the miss backlog: each entry re-runs the provider
// chain for its symbol and merges any newly available market fields into
// the stored CoinEntry. A symbol that is still unavailable returns an
// error so the queue's retry schedule, and eventually its dead-letter
// list, takes over.
type ReprocessJob struct {
	enricher *Enricher
	coins    repository.CoinStore
	log      *logger.Logger
}

var _ queue.Job = (*ReprocessJob)(nil)

func NewReprocessJob(enricher *Enricher, coins repository.CoinStore, log *logger.Logger) *ReprocessJob {
	return &ReprocessJob{enricher: enricher, coins: coins, log: log}
}

func (j *ReprocessJob) Name() string { return "market-miss-reprocess" }

func (j *ReprocessJob) Type() string { return MissType }

func (j *ReprocessJob) Handle(ctx context.Context, payload interface{}) error {
	miss, err := queue.ParsePayload[MissPayload](payload)
	if err != nil {
		return fmt.Errorf("market: parse miss payload: %w", err)
	}

	coins, err := j.coins.All(ctx)
	if err != nil {
		return fmt.Errorf("market: read coin store: %w", err)
	}

	idx := -1
	for i := range coins {
		if coins[i].Symbol == miss.Symbol {
			idx = i
			break
		}
	}
	if idx == -1 {
		// The symbol dropped out of the store since the miss was
		// recorded; nothing left to reconcile.
		return nil
	}

	if !j.enricher.Refresh(ctx, &coins[idx]) {
		return fmt.Errorf("market: %s still unavailable", miss.Symbol)
	}

	if err := j.coins.Replace(ctx, coins); err != nil {
		return fmt.Errorf("market: write coin store: %w", err)
	}
	j.log.Info("market: backfilled coin entry from miss backlog",
		logger.String("symbol", miss.Symbol))
	return nil
}
