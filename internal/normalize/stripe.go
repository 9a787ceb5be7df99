package normalize

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeSubscriptions reads subscription metadata from the Stripe API.
type StripeSubscriptions struct {
	client subscription.Client
}

// NewStripeSubscriptions returns a source authenticated with secretKey.
func NewStripeSubscriptions(secretKey string) *StripeSubscriptions {
	return &StripeSubscriptions{
		client: subscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

func (s *StripeSubscriptions) SubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.client.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub.Metadata, nil
}
