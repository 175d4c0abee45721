package repository

import (
	"context"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
)

// SubscriptionRepository defines the interface for subscription access
type SubscriptionRepository interface {
	// List returns every subscription of the signed-in user
	List(ctx context.Context) ([]entity.Subscription, error)

	// Create saves a subscription and returns it with its ID
	Create(ctx context.Context, sub *entity.Subscription) (*entity.Subscription, error)

	// Delete removes a subscription
	Delete(ctx context.Context, id int) error
}
