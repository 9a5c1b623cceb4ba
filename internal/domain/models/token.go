package models

// Recommendation is a coarse trading signal derived from a TokenRecord's
// confidence score.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationHold Recommendation = "HOLD"
	RecommendationSell Recommendation = "SELL"
)

// RecommendationFor implements the recommendation law: confidence >= 75 is
// BUY, 55 <= confidence < 75 is HOLD, otherwise SELL.
func RecommendationFor(confidence int) Recommendation {
	switch {
	case confidence >= 75:
		return RecommendationBuy
	case confidence >= 55:
		return RecommendationHold
	default:
		return RecommendationSell
	}
}

// TokenRecord is the per-symbol sentiment/engagement aggregation produced by
// the SentimentAggregator. It is recomputed from scratch on every run.
type TokenRecord struct {
	Symbol             string         `json:"symbol"`
	Posts              []Post         `json:"posts"`
	RawSentiment       float64        `json:"rawSentiment"`
	AggregateSentiment float64        `json:"aggregateSentiment"`
	Engagement         float64        `json:"engagement"`
	Confidence         int            `json:"confidence"`
	Recommendation     Recommendation `json:"recommendation"`
}
