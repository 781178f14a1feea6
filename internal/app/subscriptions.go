package app

import (
	"context"

	"github.com/dkeye/Campus/internal/domain"
)

type Subscriptions struct {
	store SubscriptionStore
}

func NewSubscriptions(store SubscriptionStore) *Subscriptions {
	return &Subscriptions{store: store}
}

// Subscribe stores a browser push subscription; re-subscribing an endpoint refreshes its keys.
func (s *Subscriptions) Subscribe(ctx context.Context, endpoint string, keys domain.SubscriptionKeys) (*domain.Subscription, error) {
	sub, err := domain.NewSubscription(endpoint, keys)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}
