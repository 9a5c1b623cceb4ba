// Package sentiment implements the SentimentAggregator: grouping scraped
// posts by token symbol and scoring each group's sentiment, engagement,
// and confidence.
package sentiment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
)

// Weighting constants for the confidence formula. Kept as named constants,
// not inlined, so a future calibration pass has a single place to change
// them.
const (
	rawWeight = 0.3
	aggWeight = 0.5
	engWeight = 0.2
	alpha     = 5.0
	eRef      = 500.0
)

// Aggregator groups posts by tokenSymbol and computes the per-token
// TokenRecord. Score is the injected pure sentiment scorer (out of this
// module's scope).
type Aggregator struct {
	score repository.ScoreFunc
}

func New(score repository.ScoreFunc) *Aggregator {
	return &Aggregator{score: score}
}

// Run groups posts without a tokenSymbol out, computes one TokenRecord per
// remaining group, and returns them sorted by symbol for stable output.
func (a *Aggregator) Run(ctx context.Context, posts []models.Post) []models.TokenRecord {
	groups := make(map[string][]models.Post)
	for _, p := range posts {
		if !p.HasSymbol() {
			continue
		}
		groups[p.TokenSymbol] = append(groups[p.TokenSymbol], p)
	}

	records := make([]models.TokenRecord, 0, len(groups))
	for symbol, group := range groups {
		records = append(records, a.score4(symbol, group))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return records
}

func (a *Aggregator) score4(symbol string, group []models.Post) models.TokenRecord {
	raw := normalizeToUnit(a.meanRawSentiment(group))
	agg := normalizeToUnit(a.weightedAggregateSentiment(group))
	eng := engagement(group)
	confidence := int(math.Round(100 * clamp01(rawWeight*raw+aggWeight*agg+engWeight*eng)))

	return models.TokenRecord{
		Symbol:             symbol,
		Posts:              group,
		RawSentiment:       round4(raw),
		AggregateSentiment: round4(agg),
		Engagement:         round4(eng),
		Confidence:         confidence,
		Recommendation:     models.RecommendationFor(confidence),
	}
}

func (a *Aggregator) meanRawSentiment(group []models.Post) float64 {
	if len(group) == 0 {
		return 0
	}
	var sum float64
	for _, p := range group {
		sum += a.score(p.Title + " " + p.Content)
	}
	return sum / float64(len(group))
}

func (a *Aggregator) weightedAggregateSentiment(group []models.Post) float64 {
	var weightedSum, weightTotal float64
	for _, p := range group {
		text := p.Title + " " + p.Content + " " + strings.Join(p.Comments, " ")
		weight := math.Log(1+float64(p.Upvotes)) + 0.5*math.Log(1+float64(p.CommentCount))
		weightedSum += a.score(text) * weight
		weightTotal += weight
	}
	if weightTotal == 0 {
		return a.meanRawSentiment(group)
	}
	return weightedSum / weightTotal
}

func engagement(group []models.Post) float64 {
	var upvotes, comments float64
	for _, p := range group {
		upvotes += float64(p.Upvotes)
		comments += float64(p.CommentCount)
	}
	return math.Min(1, (upvotes+0.5*comments+alpha*float64(len(group)))/eRef)
}

func normalizeToUnit(x float64) float64 {
	return (x + 1) / 2
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

// LatestPost returns the post with the newest timestamp in group, used by
// the MarketEnricher to populate CoinEntry.LatestPost.
func LatestPost(group []models.Post) (models.Post, error) {
	if len(group) == 0 {
		return models.Post{}, fmt.Errorf("sentiment: empty group has no latest post")
	}
	latest := group[0]
	for _, p := range group[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest, nil
}
