package subscriber

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"launch-helpdesk/internal/chain"
	"launch-helpdesk/internal/metrics"
	"launch-helpdesk/internal/models"
	"launch-helpdesk/internal/watchdog"
)

// LaunchHandler receives every event of the subscription. It must not block.
type LaunchHandler interface {
	OnNewLaunch(ev models.LaunchEvent)
}

// Manager owns the NewLaunch subscription and the watchdog that keeps it alive.
type Manager struct {
	client   chain.Client
	handler  LaunchHandler
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewManager(client chain.Client, handler LaunchHandler, clock clockwork.Clock, interval time.Duration, m *metrics.Metrics) *Manager {
	return &Manager{
		client:   client,
		handler:  handler,
		clock:    clock,
		interval: interval,
		metrics:  m,
	}
}

// Subscribe opens a fresh subscription and forwards its events to the handler
// until the subscription's event channel closes. Not safe to call concurrently;
// Run serializes it through the watchdog.
func (m *Manager) Subscribe(ctx context.Context) (chain.Subscription, error) {
	sub, err := m.client.SubscribeLaunches(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Subscribed to NewLaunch event")
	go func() {
		for ev := range sub.Events() {
			m.handler.OnNewLaunch(ev)
		}
	}()
	return sub, nil
}

// Run subscribes and watches the subscription until ctx is cancelled. A
// failed initial subscribe is retried by the watchdog like a dead subscription.
func (m *Manager) Run(ctx context.Context) {
	sub, err := m.Subscribe(ctx)
	if err != nil {
		slog.Warn("Initial subscribe failed", "retryIn", m.interval, "error", err)
		sub = nil
	}
	watchdog.New(m.clock, m.interval, m.Subscribe, m.metrics).Watch(ctx, sub)
}
