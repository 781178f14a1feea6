package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type SubscriptionID string

// SubscriptionKeys are the browser-generated Web Push encryption keys.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type Subscription struct {
	ID        SubscriptionID   `json:"id"`
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	CreatedAt time.Time        `json:"createdAt"`
}

func NewSubscription(endpoint string, keys SubscriptionKeys) (*Subscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if endpoint == "" || err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint must be an https url", ErrValidation)
	}
	if keys.P256dh == "" || keys.Auth == "" {
		return nil, fmt.Errorf("%w: keys.p256dh and keys.auth are required", ErrValidation)
	}
	return &Subscription{Endpoint: endpoint, Keys: keys}, nil
}

// Notification is the JSON body delivered to a push subscription.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
