package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	EventsSeen      prometheus.Counter
	EventsAccepted  prometheus.Counter
	TicketsCreated  prometheus.Counter
	TicketFailures  prometheus.Counter
	Attachments     *prometheus.CounterVec
	HandlerFailures prometheus.Counter
	HandlersActive  prometheus.Gauge
	Resubscriptions prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_launch_events_total",
			Help: "NewLaunch events received from the subscription",
		}),
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_launch_events_accepted_total",
			Help: "NewLaunch events addressed to the administrator",
		}),
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_tickets_created_total",
			Help: "Tickets created in the helpdesk",
		}),
		TicketFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_ticket_create_failures_total",
			Help: "Failed ticket create attempts (each is retried)",
		}),
		Attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_attachments_total",
			Help: "Attachment uploads by result",
		}, []string{"result"}),
		HandlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_handler_failures_total",
			Help: "Handling units that ended with an error",
		}),
		HandlersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_handlers_active",
			Help: "Handling units currently running",
		}),
		Resubscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_resubscriptions_total",
			Help: "Times a dead event subscription was replaced",
		}),
	}
	m.registry.MustRegister(
		m.EventsSeen,
		m.EventsAccepted,
		m.TicketsCreated,
		m.TicketFailures,
		m.Attachments,
		m.HandlerFailures,
		m.HandlersActive,
		m.Resubscriptions,
	)
	return m
}

func (m *Metrics) EventSeen() {
	if m != nil {
		m.EventsSeen.Inc()
	}
}

func (m *Metrics) EventAccepted() {
	if m != nil {
		m.EventsAccepted.Inc()
	}
}

func (m *Metrics) TicketCreated() {
	if m != nil {
		m.TicketsCreated.Inc()
	}
}

func (m *Metrics) TicketFailed() {
	if m != nil {
		m.TicketFailures.Inc()
	}
}

func (m *Metrics) Resubscribed() {
	if m != nil {
		m.Resubscriptions.Inc()
	}
}

func (m *Metrics) Attachment(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Attachments.WithLabelValues(result).Inc()
}

func (m *Metrics) HandlerStarted() {
	if m != nil {
		m.HandlersActive.Inc()
	}
}

func (m *Metrics) HandlerDone(err error) {
	if m == nil {
		return
	}
	m.HandlersActive.Dec()
	if err != nil {
		m.HandlerFailures.Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
