package service

import (
	"context"
	"math"
	"sort"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/domain/repository"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
)

// CurrencyPreference supplies the display currency
type CurrencyPreference interface {
	PreferredCurrency() string
}

// ConvertedSubscription is a subscription priced in the display currency
type ConvertedSubscription struct {
	entity.Subscription
	ConvertedAmount float64 `json:"converted_amount"`
	Rate            float64 `json:"rate"`
}

// SpendSummary totals subscriptions in one currency. Subscriptions whose
// currency could not be resolved are listed but left out of Total.
type SpendSummary struct {
	Currency   string                  `json:"currency"`
	Total      float64                 `json:"total"`
	Items      []ConvertedSubscription `json:"items"`
	Unresolved []string                `json:"unresolved,omitempty"`
}

// SubscriptionService handles business logic for subscriptions
type SubscriptionService struct {
	repo     repository.SubscriptionRepository
	resolver *RateResolver
	prefs    CurrencyPreference
	logger   logger.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(repo repository.SubscriptionRepository, resolver *RateResolver, prefs CurrencyPreference, log logger.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:     repo,
		resolver: resolver,
		prefs:    prefs,
		logger:   logger.OrDefault(log).WithField("component", "subscription_service"),
	}
}

// CreateSubscription validates and stores a new subscription
func (s *SubscriptionService) CreateSubscription(ctx context.Context, name string, amount float64, currency string) (*entity.Subscription, error) {
	// Round amount to nearest cent
	amount = math.Round(amount*100) / 100

	sub := &entity.Subscription{
		Name:     name,
		Amount:   amount,
		Currency: entity.NormalizeCurrency(currency),
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	return s.repo.Create(ctx, sub)
}

// ListSubscriptions returns every subscription
func (s *SubscriptionService) ListSubscriptions(ctx context.Context) ([]entity.Subscription, error) {
	return s.repo.List(ctx)
}

// DeleteSubscription removes a subscription
func (s *SubscriptionService) DeleteSubscription(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}

// Summary prices every subscription in currency, or in the preferred
// currency when currency is empty. Rates are resolved in one batch.
func (s *SubscriptionService) Summary(ctx context.Context, currency string) (*SpendSummary, error) {
	target := entity.NormalizeCurrency(currency)
	if target == "" && s.prefs != nil {
		target = s.prefs.PreferredCurrency()
	}
	if target == "" {
		return nil, ErrInvalidCurrency
	}

	subs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(subs))
	for _, sub := range subs {
		sources = append(sources, sub.Currency)
	}
	rates := s.resolver.ResolveMany(ctx, sources, target)

	summary := &SpendSummary{Currency: target, Items: make([]ConvertedSubscription, 0, len(subs))}
	unresolved := map[string]bool{}
	var total float64

	for _, sub := range subs {
		code := entity.NormalizeCurrency(sub.Currency)
		rate, ok := rates[code]
		if code == target {
			rate, ok = 1, true
		}

		item := ConvertedSubscription{Subscription: sub}
		if ok {
			item.Rate = rate
			item.ConvertedAmount = math.Round(sub.Amount*rate*100) / 100
			total += sub.Amount * rate
		} else {
			unresolved[code] = true
		}
		summary.Items = append(summary.Items, item)
	}

	summary.Total = math.Round(total*100) / 100
	for code := range unresolved {
		summary.Unresolved = append(summary.Unresolved, code)
	}
	sort.Strings(summary.Unresolved)

	s.logger.Info("Spend summary computed", map[string]interface{}{
		"request_id":    middleware.GetRequestID(ctx),
		"currency":      target,
		"subscriptions": len(subs),
		"unresolved":    len(summary.Unresolved),
	})

	return summary, nil
}
