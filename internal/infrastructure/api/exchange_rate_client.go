package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/metrics"
)

const exchangeRatePath = "/exchange-rates"

// ExchangeRateClient reads conversion rates from the backend through the gateway
type ExchangeRateClient struct {
	gateway *Gateway
	metrics *metrics.Metrics
}

// NewExchangeRateClient creates a rate client over gateway
func NewExchangeRateClient(gateway *Gateway, m *metrics.Metrics) *ExchangeRateClient {
	return &ExchangeRateClient{gateway: gateway, metrics: m}
}

// FetchRatesFrom retrieves every known rate relative to base
func (c *ExchangeRateClient) FetchRatesFrom(ctx context.Context, base string) ([]entity.RateQuote, error) {
	base = entity.NormalizeCurrency(base)
	if base == "" {
		return nil, fmt.Errorf("base currency is required")
	}

	c.metrics.ObserveRateFetch("batch")
	quotes, err := Call[[]entity.RateQuote](ctx, c.gateway, http.MethodGet, exchangeRatePath+"?base="+url.QueryEscape(base), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates from %s: %w", base, err)
	}
	if quotes == nil {
		return nil, nil
	}

	return *quotes, nil
}

// FetchPair retrieves the direct base->target rate
func (c *ExchangeRateClient) FetchPair(ctx context.Context, base, target string) (float64, error) {
	base, target = entity.NormalizeCurrency(base), entity.NormalizeCurrency(target)
	if base == "" || target == "" {
		return 0, fmt.Errorf("base and target currencies are required")
	}

	c.metrics.ObserveRateFetch("pair")
	path := fmt.Sprintf("%s/%s/%s", exchangeRatePath, url.PathEscape(base), url.PathEscape(target))
	pair, err := Call[entity.PairRate](ctx, c.gateway, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rate %s->%s: %w", base, target, err)
	}
	if pair == nil {
		return 0, fmt.Errorf("empty rate response for %s->%s", base, target)
	}

	if pair.Rate <= 0 {
		return 0, fmt.Errorf("invalid exchange rate value: %f", pair.Rate)
	}

	return pair.Rate, nil
}
