// Package service internal/application/service/rate_resolver.go
package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	domainservice "github.com/damon-houk/subtrack-client/internal/domain/service"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
)

// ErrInvalidCurrency is returned for an empty currency code
var ErrInvalidCurrency = errors.New("currency code is required")

// RateCache is the subset of cache.RateCacheStore the resolver needs
type RateCache interface {
	Get(base, target string) (float64, bool)
	GetMany(bases []string, target string) map[string]float64
	Set(base, target string, rate float64) error
	SetMany(entries []entity.RateEntry) error
}

// Conversion is an amount converted between two currencies
type Conversion struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	OriginalAmount  float64 `json:"original_amount"`
	Rate            float64 `json:"rate"`
	ConvertedAmount float64 `json:"converted_amount"`
}

// RateResolver answers conversion factors from the cache, filling misses
// from the backend
type RateResolver struct {
	cache   RateCache
	fetcher domainservice.RateFetcher
	logger  logger.Logger
}

// NewRateResolver creates a new rate resolver
func NewRateResolver(cache RateCache, fetcher domainservice.RateFetcher, log logger.Logger) *RateResolver {
	return &RateResolver{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger.OrDefault(log).WithField("component", "rate_resolver"),
	}
}

// ResolveMany returns source->target factors for every source it can resolve.
// Fresh cache entries are served directly; all misses are filled by a single
// fetch of the target's outbound rates, each inverted. Sources that cannot be
// resolved are omitted. Identity sources are dropped.
func (r *RateResolver) ResolveMany(ctx context.Context, sources []string, target string) map[string]float64 {
	ctx, requestID := middleware.EnsureRequestID(ctx)
	target = entity.NormalizeCurrency(target)
	result := make(map[string]float64)
	if target == "" {
		return result
	}

	seen := make(map[string]bool, len(sources))
	wanted := make([]string, 0, len(sources))
	for _, src := range sources {
		src = entity.NormalizeCurrency(src)
		if src == "" || src == target || seen[src] {
			continue
		}
		seen[src] = true
		wanted = append(wanted, src)
	}
	if len(wanted) == 0 {
		return result
	}

	var misses []string
	cached := r.cache.GetMany(wanted, target)
	for _, src := range wanted {
		if rate, ok := cached[src]; ok {
			result[src] = rate
			continue
		}
		misses = append(misses, src)
	}

	if len(misses) == 0 {
		return result
	}

	r.logger.Debug("Fetching rates for cache misses", map[string]interface{}{
		"request_id": requestID,
		"target":     target,
		"misses":     misses,
	})

	quotes, err := r.fetcher.FetchRatesFrom(ctx, target)
	if err != nil {
		r.logger.Warn("Failed to fetch exchange rates, returning cached subset", map[string]interface{}{
			"request_id": requestID,
			"target":     target,
			"error":      err.Error(),
		})
		return result
	}

	outbound := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		outbound[entity.NormalizeCurrency(q.TargetCurrency)] = q.Rate
	}

	derived := make([]entity.RateEntry, 0, len(misses))
	for _, src := range misses {
		inverse, ok := outbound[src]
		if !ok || !(inverse > 0) || math.IsInf(inverse, 0) {
			continue
		}
		rate := 1 / inverse
		// a subnormal quote overflows on inversion
		if math.IsInf(rate, 0) {
			continue
		}
		result[src] = rate
		derived = append(derived, entity.RateEntry{Base: src, Target: target, Rate: rate})
	}

	if len(derived) < len(misses) {
		r.logger.Info("Some currencies could not be resolved", map[string]interface{}{
			"request_id": requestID,
			"target":     target,
			"resolved":   len(derived),
			"missing":    len(misses) - len(derived),
		})
	}

	if err := r.cache.SetMany(derived); err != nil {
		r.logger.Warn("Failed to cache derived rates", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}

	return result
}

// ResolveOne returns the base->target factor. Identical codes yield 1
// without consulting the cache or the backend.
func (r *RateResolver) ResolveOne(ctx context.Context, base, target string) (float64, error) {
	ctx, requestID := middleware.EnsureRequestID(ctx)
	base, target = entity.NormalizeCurrency(base), entity.NormalizeCurrency(target)
	if base == "" || target == "" {
		return 0, ErrInvalidCurrency
	}
	if base == target {
		return 1, nil
	}

	if rate, ok := r.cache.Get(base, target); ok {
		return rate, nil
	}

	rate, err := r.fetcher.FetchPair(ctx, base, target)
	if err != nil {
		r.logger.Error("Failed to get exchange rate", map[string]interface{}{
			"request_id": requestID,
			"base":       base,
			"target":     target,
			"error":      err.Error(),
		})
		return 0, fmt.Errorf("failed to get exchange rate %s->%s: %w", base, target, err)
	}

	if err := r.cache.Set(base, target, rate); err != nil {
		r.logger.Warn("Failed to cache rate", map[string]interface{}{
			"request_id": requestID,
			"base":       base,
			"target":     target,
			"error":      err.Error(),
		})
	}

	return rate, nil
}

// Convert converts amount from one currency to another, rounded to cents
func (r *RateResolver) Convert(ctx context.Context, amount float64, from, to string) (*Conversion, error) {
	rate, err := r.ResolveOne(ctx, from, to)
	if err != nil {
		return nil, err
	}

	converted := math.Round(amount*rate*100) / 100

	r.logger.Debug("Conversion completed", map[string]interface{}{
		"request_id":       middleware.GetRequestID(ctx),
		"from":             entity.NormalizeCurrency(from),
		"to":               entity.NormalizeCurrency(to),
		"original_amount":  amount,
		"rate":             rate,
		"converted_amount": converted,
	})

	return &Conversion{
		From:            entity.NormalizeCurrency(from),
		To:              entity.NormalizeCurrency(to),
		OriginalAmount:  amount,
		Rate:            rate,
		ConvertedAmount: converted,
	}, nil
}
