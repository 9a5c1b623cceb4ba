package models

// PartialMarketInfo is the subset of on-chain fields a single market
// provider was able to supply for a symbol. Zero-value fields mean "this
// provider had nothing to say about this field", not "this field is zero".
type PartialMarketInfo struct {
	Address   string
	Chain     string
	PriceUsd  *float64
	Change24h *float64
	LogoURL   string
	Decimals  *int
}

// IsEmpty reports whether the provider returned nothing at all.
func (p PartialMarketInfo) IsEmpty() bool {
	return p.Address == "" && p.Chain == "" && p.PriceUsd == nil &&
		p.Change24h == nil && p.LogoURL == "" && p.Decimals == nil
}

// MergeInto fills any unset fields of dst from p, preferring values already
// present in dst (the earlier provider in the chain wins).
func (p PartialMarketInfo) MergeInto(dst *CoinEntry) {
	if dst.Address == "" {
		dst.Address = p.Address
	}
	if dst.Chain == "" {
		dst.Chain = p.Chain
	}
	if dst.PriceUsd == nil {
		dst.PriceUsd = p.PriceUsd
	}
	if dst.Change24h == nil {
		dst.Change24h = p.Change24h
	}
	if dst.LogoURL == "" {
		dst.LogoURL = p.LogoURL
	}
	if dst.Decimals == nil {
		dst.Decimals = p.Decimals
	}
}
