package entity

import (
	"errors"
)

// Subscription is a recurring charge tracked by the backend
type Subscription struct {
	ID       int     `json:"id,omitempty"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Validate ensures the subscription meets all requirements
func (s *Subscription) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}

	if len(s.Name) > 50 {
		return errors.New("name must not exceed 50 characters")
	}

	if s.Amount <= 0 {
		return errors.New("amount must be a positive value")
	}

	if NormalizeCurrency(s.Currency) == "" {
		return errors.New("currency is required")
	}

	return nil
}
