package service

import (
	"context"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
)

// RateFetcher defines the network side of currency conversion
type RateFetcher interface {
	// FetchRatesFrom retrieves every rate the backend knows relative to base
	FetchRatesFrom(ctx context.Context, base string) ([]entity.RateQuote, error)

	// FetchPair retrieves the direct base->target rate
	FetchPair(ctx context.Context, base, target string) (float64, error)
}
