// Package app wires the client components from configuration
package app

import (
	"fmt"
	"io"
	"os"

	"github.com/damon-houk/subtrack-client/internal/application/service"
	"github.com/damon-houk/subtrack-client/internal/config"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/api"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/cache"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/db"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/session"
	"github.com/damon-houk/subtrack-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// App holds every wired component. Close releases storage.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store       *db.BadgerStore
	Credentials *session.CredentialStore
	Preferences *session.PreferenceStore
	Refresher   *session.RefreshCoordinator

	Gateway       *api.Gateway
	Rates         *api.ExchangeRateClient
	RateCache     *cache.RateCacheStore
	Resolver      *service.RateResolver
	Subscriptions *service.SubscriptionService
}

// Option configures New
type Option func(*options)

type options struct {
	logOutput io.Writer
}

// WithLogOutput sends logs to w instead of stderr
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// New builds the application from cfg
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.NewJSONLogger(o.logOutput, logger.ParseLevel(cfg.Logging.Level)).
		WithField("app", "subtrack")
	logger.SetDefaultLogger(log)

	path := cfg.Storage.Path
	if cfg.Storage.InMemory {
		path = ""
	} else if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	httpClient := middleware.NewHTTPClient(cfg.API.Timeout, log)

	credentials := session.NewCredentialStore(store, log)
	refresher := session.NewRefreshCoordinator(cfg.API.BaseURL, httpClient, credentials, log, m)
	gateway := api.NewGateway(cfg.API.BaseURL, credentials, refresher,
		api.WithHTTPClient(httpClient),
		api.WithLogger(log),
		api.WithMetrics(m),
	)

	rates := api.NewExchangeRateClient(gateway, m)
	rateCache := cache.NewRateCacheStore(store, log, cache.WithTTL(cfg.Cache.TTL), cache.WithMetrics(m))
	resolver := service.NewRateResolver(rateCache, rates, log)
	preferences := session.NewPreferenceStore(store, cfg.Currency.Default)

	a := &App{
		Config:        cfg,
		Logger:        log,
		Registry:      reg,
		Metrics:       m,
		Store:         store,
		Credentials:   credentials,
		Preferences:   preferences,
		Refresher:     refresher,
		Gateway:       gateway,
		Rates:         rates,
		RateCache:     rateCache,
		Resolver:      resolver,
		Subscriptions: service.NewSubscriptionService(api.NewSubscriptionClient(gateway), resolver, preferences, log),
	}

	return a, nil
}

// Logout clears the stored session. Cached rates outlive it.
func (a *App) Logout() error {
	return a.Credentials.ClearSession()
}

// WriteMetrics writes the current counters in the Prometheus text format
func (a *App) WriteMetrics(w io.Writer) error {
	families, err := a.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Close releases storage
func (a *App) Close() error {
	return a.Store.Close()
}
