package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
)

// SubscriptionClient reads and writes subscriptions through the gateway
type SubscriptionClient struct {
	gateway *Gateway
}

// NewSubscriptionClient creates a subscription client
func NewSubscriptionClient(gateway *Gateway) *SubscriptionClient {
	return &SubscriptionClient{gateway: gateway}
}

// List returns every subscription of the signed-in user
func (c *SubscriptionClient) List(ctx context.Context) ([]entity.Subscription, error) {
	subs, err := Call[[]entity.Subscription](ctx, c.gateway, http.MethodGet, "/subscriptions", nil)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		return []entity.Subscription{}, nil
	}
	return *subs, nil
}

// Create saves a subscription and returns it with its ID
func (c *SubscriptionClient) Create(ctx context.Context, sub *entity.Subscription) (*entity.Subscription, error) {
	created, err := Call[entity.Subscription](ctx, c.gateway, http.MethodPost, "/subscriptions", sub)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("create subscription: empty response")
	}
	return created, nil
}

// Delete removes a subscription
func (c *SubscriptionClient) Delete(ctx context.Context, id int) error {
	return c.gateway.Delete(ctx, fmt.Sprintf("/subscriptions/%d", id), nil)
}
