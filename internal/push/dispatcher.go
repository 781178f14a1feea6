package push

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

const deliverTimeout = 30 * time.Second

// Dispatcher sends a notification to every stored subscription. Failures are
// logged and never retried; subscriptions the push service reports as gone
// are deleted.
type Dispatcher struct {
	subs   app.SubscriptionStore
	sender Sender
}

func NewDispatcher(subs app.SubscriptionStore, sender Sender) *Dispatcher {
	return &Dispatcher{subs: subs, sender: sender}
}

// Notify delivers in the background and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
		defer cancel()
		d.Deliver(ctx, n)
	}()
}

// Deliver sends n synchronously and reports how many deliveries succeeded.
func (d *Dispatcher) Deliver(ctx context.Context, n domain.Notification) (sent, failed int) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("module", "push").Msg("encode notification")
		return 0, 0
	}
	subs, err := d.subs.ListSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "push").Msg("list subscriptions")
		return 0, 0
	}
	for _, sub := range subs {
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrGone):
			failed++
			if err := d.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				log.Warn().Err(err).Str("module", "push").Msg("delete gone subscription")
			}
		default:
			failed++
			log.Warn().Err(err).Str("module", "push").Str("endpoint", sub.Endpoint).Msg("push notification failed")
		}
	}
	log.Info().Str("module", "push").Int("sent", sent).Int("failed", failed).Msg("notification delivered")
	return sent, failed
}
