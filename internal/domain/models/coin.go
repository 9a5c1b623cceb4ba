package models

// CoinEntry is a TokenRecord enriched with whatever on-chain market data the
// MarketEnricher's provider chain was able to attach. Optional fields stay
// at their zero value when no provider supplied them; a CoinEntry is always
// emitted for every TokenRecord regardless of enrichment success.
type CoinEntry struct {
	Symbol             string         `json:"symbol"`
	Posts              []Post         `json:"posts"`
	RawSentiment       float64        `json:"rawSentiment"`
	AggregateSentiment float64        `json:"aggregateSentiment"`
	Engagement         float64        `json:"engagement"`
	Confidence         int            `json:"confidence"`
	Recommendation     Recommendation `json:"recommendation"`

	Address   string   `json:"address,omitempty"`
	Chain     string   `json:"chain,omitempty"`
	PriceUsd  *float64 `json:"priceUsd,omitempty"`
	Change24h *float64 `json:"change24h,omitempty"`
	LogoURL   string   `json:"logoUrl,omitempty"`
	Decimals  *int     `json:"decimals,omitempty"`
	LatestPost *Post   `json:"latestPost,omitempty"`
}

// FromTokenRecord copies the sentiment/engagement fields of a TokenRecord
// into a fresh CoinEntry; market fields are left unset for the enricher to
// fill in.
func FromTokenRecord(r TokenRecord) CoinEntry {
	return CoinEntry{
		Symbol:             r.Symbol,
		Posts:              r.Posts,
		RawSentiment:       r.RawSentiment,
		AggregateSentiment: r.AggregateSentiment,
		Engagement:         r.Engagement,
		Confidence:         r.Confidence,
		Recommendation:     r.Recommendation,
	}
}
