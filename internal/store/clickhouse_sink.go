package store

import (
	"context"
	"encoding/json"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/pkg/clickhouse"
	"tokenpulse/pkg/logger"
)

// coinSnapshotsSchema creates the mirror table idempotently.
var coinSnapshotsSchema = []string{
	`CREATE TABLE IF NOT EXISTS coin_snapshots (
		captured_at DateTime DEFAULT now(),
		symbol String,
		confidence UInt8,
		recommendation String,
		raw_sentiment Float64,
		aggregate_sentiment Float64,
		engagement Float64,
		price_usd Nullable(Float64),
		change_24h Nullable(Float64),
		address String,
		chain String,
		payload String
	) ENGINE = MergeTree()
	ORDER BY (symbol, captured_at)`,
}

// ClickHouseSink is a fire-and-forget observer of coinsUpdated: it appends
// one row per CoinEntry to a ClickHouse table for historical analytics. It
// is never on the critical path of the JSON-store invariants; failures are
// logged and otherwise ignored.
type ClickHouseSink struct {
	client *clickhouse.Client
	log    *logger.Logger
}

// NewClickHouseSink wraps an already-connected client and ensures the
// mirror table exists.
func NewClickHouseSink(ctx context.Context, client *clickhouse.Client, log *logger.Logger) (*ClickHouseSink, error) {
	if err := client.InitSchema(ctx, coinSnapshotsSchema); err != nil {
		return nil, err
	}
	return &ClickHouseSink{client: client, log: log}, nil
}

// Watch drains an EventBus subscription and mirrors the CoinStore after
// every coinsUpdated event. It returns when events closes or ctx is
// cancelled. Run it on its own goroutine; the sink observes completed
// pipeline passes and never sits on the pipeline's critical path.
func (s *ClickHouseSink) Watch(ctx context.Context, events <-chan models.Event, coins repository.CoinStore) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != models.EventCoinsUpdated {
				continue
			}
			snapshot, err := coins.All(ctx)
			if err != nil {
				s.log.Error("clickhouse sink: coin store read failed", logger.Error(err))
				continue
			}
			s.Mirror(ctx, snapshot)
		}
	}
}

// Mirror appends a snapshot row for every coin. Call it asynchronously from
// the coinsUpdated handler; it does not block the pipeline.
func (s *ClickHouseSink) Mirror(ctx context.Context, coins []models.CoinEntry) {
	for _, c := range coins {
		payload, err := json.Marshal(c)
		if err != nil {
			s.log.Error("clickhouse sink: marshal coin entry failed", logger.String("symbol", c.Symbol), logger.Error(err))
			continue
		}
		_, err = s.client.DB().ExecContext(ctx,
			`INSERT INTO coin_snapshots (symbol, confidence, recommendation, raw_sentiment, aggregate_sentiment, engagement, price_usd, change_24h, address, chain, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Symbol, c.Confidence, string(c.Recommendation), c.RawSentiment, c.AggregateSentiment, c.Engagement,
			c.PriceUsd, c.Change24h, c.Address, c.Chain, string(payload),
		)
		if err != nil {
			s.log.Error("clickhouse sink: insert failed", logger.String("symbol", c.Symbol), logger.Error(err))
		}
	}
}
