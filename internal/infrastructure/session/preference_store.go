package session

import (
	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/domain/repository"
)

// PreferenceStore keeps the user's preferred display currency
type PreferenceStore struct {
	kv       repository.KeyValueStore
	fallback string
}

// NewPreferenceStore creates a preference store; fallback is returned when nothing is stored
func NewPreferenceStore(kv repository.KeyValueStore, fallback string) *PreferenceStore {
	return &PreferenceStore{kv: kv, fallback: entity.NormalizeCurrency(fallback)}
}

// PreferredCurrency returns the stored currency code or the fallback
func (p *PreferenceStore) PreferredCurrency() string {
	v, ok, err := p.kv.Get(repository.PreferredCurrencyKey)
	if err != nil || !ok {
		return p.fallback
	}
	if code := entity.NormalizeCurrency(v); code != "" {
		return code
	}
	return p.fallback
}

// SetPreferredCurrency stores code; an empty code resets to the fallback
func (p *PreferenceStore) SetPreferredCurrency(code string) error {
	code = entity.NormalizeCurrency(code)
	if code == "" {
		return p.kv.Delete(repository.PreferredCurrencyKey)
	}
	return p.kv.Set(repository.PreferredCurrencyKey, code)
}
