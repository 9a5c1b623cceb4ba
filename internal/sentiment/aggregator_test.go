package sentiment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
)

func fixedScore(value float64) func(string) float64 {
	return func(string) float64 { return value }
}

func TestAggregator_SingleSourceSingleTokenHold(t *testing.T) {
	posts := []models.Post{
		{
			ID:           1,
			Source:       "S",
			Title:        "$PEP mooning",
			Upvotes:      10,
			CommentCount: 0,
			Comments:     []string{},
			TokenSymbol:  "PEP",
		},
	}

	agg := New(fixedScore(0.8))
	records := agg.Run(context.Background(), posts)

	require.Len(t, records, 1)
	r := records[0]
	require.Equal(t, "PEP", r.Symbol)
	require.InDelta(t, 0.9, r.RawSentiment, 1e-9)
	require.InDelta(t, 0.9, r.AggregateSentiment, 1e-9)
	require.InDelta(t, 0.03, r.Engagement, 1e-9)
	require.Equal(t, 73, r.Confidence)
	require.Equal(t, models.RecommendationHold, r.Recommendation)
}

func TestAggregator_GroupingCompleteness(t *testing.T) {
	posts := []models.Post{
		{ID: 1, TokenSymbol: "AAA", Title: "a"},
		{ID: 2, TokenSymbol: "BBB", Title: "b"},
		{ID: 3, TokenSymbol: "AAA", Title: "c"},
		{ID: 4}, // no symbol: excluded
	}

	agg := New(fixedScore(0))
	records := agg.Run(context.Background(), posts)
	require.Len(t, records, 2)

	bySymbol := map[string]models.TokenRecord{}
	for _, r := range records {
		bySymbol[r.Symbol] = r
	}

	require.Len(t, bySymbol["AAA"].Posts, 2)
	require.Len(t, bySymbol["BBB"].Posts, 1)
}

func TestRecommendationFor(t *testing.T) {
	require.Equal(t, models.RecommendationBuy, models.RecommendationFor(75))
	require.Equal(t, models.RecommendationBuy, models.RecommendationFor(100))
	require.Equal(t, models.RecommendationHold, models.RecommendationFor(55))
	require.Equal(t, models.RecommendationHold, models.RecommendationFor(74))
	require.Equal(t, models.RecommendationSell, models.RecommendationFor(54))
	require.Equal(t, models.RecommendationSell, models.RecommendationFor(0))
}

func TestLatestPost(t *testing.T) {
	_, err := LatestPost(nil)
	require.Error(t, err)
}
