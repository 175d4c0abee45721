package entity

import (
	"strings"
	"time"
)

// NormalizeCurrency trims and uppercases a currency code
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RateEntry is a directional conversion factor from Base to Target
type RateEntry struct {
	Base   string  `json:"base"`
	Target string  `json:"target"`
	Rate   float64 `json:"rate"`
}

// CachedRate is a persisted rate with its absolute expiry
type CachedRate struct {
	Rate      float64   `json:"rate"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is stale at the given instant
func (c CachedRate) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RateQuote is one element of the backend's outbound rate list for a base
type RateQuote struct {
	TargetCurrency string  `json:"target_currency"`
	Rate           float64 `json:"rate"`
}

// PairRate is the backend's answer for a single currency pair
type PairRate struct {
	BaseCurrency   string  `json:"base_currency,omitempty"`
	TargetCurrency string  `json:"target_currency,omitempty"`
	Rate           float64 `json:"rate"`
}
