// internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/stretchr/testify/mock"
)

// MockRateFetcher mocks the service.RateFetcher interface
type MockRateFetcher struct {
	mock.Mock
}

func (m *MockRateFetcher) FetchRatesFrom(ctx context.Context, base string) ([]entity.RateQuote, error) {
	args := m.Called(ctx, base)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.RateQuote), args.Error(1)
}

func (m *MockRateFetcher) FetchPair(ctx context.Context, base, target string) (float64, error) {
	args := m.Called(ctx, base, target)
	return args.Get(0).(float64), args.Error(1)
}

// MockKeyValueStore mocks the repository.KeyValueStore interface
type MockKeyValueStore struct {
	mock.Mock
}

func (m *MockKeyValueStore) Get(key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockKeyValueStore) Set(key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *MockKeyValueStore) SetMany(pairs map[string]string) error {
	args := m.Called(pairs)
	return args.Error(0)
}

func (m *MockKeyValueStore) Delete(keys ...string) error {
	args := m.Called(keys)
	return args.Error(0)
}

func (m *MockKeyValueStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSubscriptionRepository mocks the repository.SubscriptionRepository interface
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) List(ctx context.Context) ([]entity.Subscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *entity.Subscription) (*entity.Subscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Delete(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
