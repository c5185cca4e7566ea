package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"launch-helpdesk/internal/chain"
	"launch-helpdesk/internal/metrics"
)

// SubscribeFunc opens a fresh subscription.
type SubscribeFunc func(ctx context.Context) (chain.Subscription, error)

// Watchdog checks the subscription on every tick and replaces it once it is
// dead. A single Watch loop owns the subscription, so resubscribes are
// serialized and never start a second loop.
type Watchdog struct {
	clock     clockwork.Clock
	interval  time.Duration
	subscribe SubscribeFunc
	metrics   *metrics.Metrics
}

func New(clock clockwork.Clock, interval time.Duration, subscribe SubscribeFunc, m *metrics.Metrics) *Watchdog {
	return &Watchdog{
		clock:     clock,
		interval:  interval,
		subscribe: subscribe,
		metrics:   m,
	}
}

// Watch runs until ctx is cancelled, then cancels whichever subscription it
// holds. sub may be nil, in which case the first tick subscribes.
func (w *Watchdog) Watch(ctx context.Context, sub chain.Subscription) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	defer func() {
		if sub != nil {
			sub.Cancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, stopping watchdog")
			return
		case <-ticker.Chan():
			if sub != nil && sub.IsAlive() {
				continue
			}
			sub = w.resubscribe(ctx, sub)
		}
	}
}

func (w *Watchdog) resubscribe(ctx context.Context, dead chain.Subscription) chain.Subscription {
	if dead != nil {
		slog.Info("Subscription is dead, resubscribing")
		dead.Cancel()
	}

	sub, err := w.subscribe(ctx)
	if err != nil {
		slog.Warn("Failed to resubscribe, retrying on next check", "retryIn", w.interval, "error", err)
		return nil
	}
	w.metrics.Resubscribed()
	return sub
}
