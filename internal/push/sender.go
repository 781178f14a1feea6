// Package push delivers Web Push notifications to stored subscriptions.
package push

//go:generate mockgen -source=sender.go -destination=mocks/mock_sender.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/dkeye/Campus/internal/domain"
)

// ErrGone means the push service no longer knows the subscription.
var ErrGone = errors.New("push subscription gone")

// Sender delivers one encrypted payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub domain.Subscription, payload []byte) error
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        time.Duration
}

// WebPushSender signs requests with VAPID keys.
type WebPushSender struct {
	cfg    VAPIDConfig
	client *http.Client
}

func NewWebPushSender(cfg VAPIDConfig, client *http.Client) *WebPushSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPushSender{cfg: cfg, client: client}
}

func (s *WebPushSender) Send(ctx context.Context, sub domain.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Keys.Auth, P256dh: sub.Keys.P256dh},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             int(s.cfg.TTL / time.Second),
	})
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
