// Package repository internal/domain/repository/kv_store.go
package repository

import "errors"

// Storage keys shared by the client-side stores
const (
	AccessTokenKey       = "access_token"
	RefreshTokenKey      = "refresh_token"
	UserKey              = "user"
	ExchangeRateCacheKey = "exchange_rate_cache"
	PreferredCurrencyKey = "preferred_currency"
)

// ErrStoreClosed is returned by stores used after Close
var ErrStoreClosed = errors.New("key-value store is closed")

// KeyValueStore defines durable string key-value storage
type KeyValueStore interface {
	// Get returns the value for key and whether it was present
	Get(key string) (string, bool, error)

	// Set stores value under key
	Set(key, value string) error

	// SetMany writes all pairs in a single transaction
	SetMany(pairs map[string]string) error

	// Delete removes all keys in a single transaction
	Delete(keys ...string) error

	// Close releases the underlying storage
	Close() error
}
