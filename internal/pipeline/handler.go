package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"launch-helpdesk/internal/helpdesk"
	"launch-helpdesk/internal/metrics"
	"launch-helpdesk/internal/models"
	"launch-helpdesk/internal/notify"
	"launch-helpdesk/internal/payload"
)

// Payload is a staged bundle owned by one handling unit.
type Payload interface {
	Contact() payload.Description
	Files() ([]string, error)
	Path(name string) string
	Cleanup() error
}

type Fetcher interface {
	Fetch(ctx context.Context, cid, sender string) (Payload, error)
}

type bundleFetcher struct {
	f payload.FetcherService
}

// Bundles adapts a payload fetcher to the Fetcher the handler consumes.
func Bundles(f payload.FetcherService) Fetcher {
	return bundleFetcher{f: f}
}

func (b bundleFetcher) Fetch(ctx context.Context, cid, sender string) (Payload, error) {
	bundle, err := b.f.Fetch(ctx, cid, sender)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

type HandlerService interface {
	Handle(ctx context.Context, cid, sender string) error
}

// Handler turns one accepted launch into a helpdesk ticket.
type Handler struct {
	fetcher    Fetcher
	backend    helpdesk.BackendService
	publisher  notify.Publisher
	clock      clockwork.Clock
	retryDelay time.Duration
	metrics    *metrics.Metrics
}

func NewHandler(fetcher Fetcher, backend helpdesk.BackendService, publisher notify.Publisher, clock clockwork.Clock, retryDelay time.Duration, m *metrics.Metrics) *Handler {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &Handler{
		fetcher:    fetcher,
		backend:    &countingBackend{BackendService: backend, metrics: m},
		publisher:  publisher,
		clock:      clock,
		retryDelay: retryDelay,
		metrics:    m,
	}
}

// Handle fetches the payload, creates the ticket (retrying until the backend
// accepts it), attaches every extra file and always removes the staging area.
// Fetch errors are not retried.
func (h *Handler) Handle(ctx context.Context, cid, sender string) error {
	bundle, err := h.fetcher.Fetch(ctx, cid, sender)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bundle.Cleanup(); cerr != nil {
			slog.Warn("Failed to remove staging dir", "cid", cid, "error", cerr)
		}
	}()

	contact := bundle.Contact()
	slog.Debug("Data from ipfs", "cid", cid, "email", contact.Email, "phone", contact.Phone, "description", contact.Description)

	ticketID, err := helpdesk.CreateTicketWithRetry(ctx, h.backend, models.TicketRequest{
		Email:       contact.Email,
		AddressFrom: sender,
		Phone:       contact.Phone,
		Description: contact.Description,
	}, h.retryDelay, h.clock)
	if err != nil {
		return fmt.Errorf("creating ticket for %s: %w", cid, err)
	}
	h.metrics.TicketCreated()
	slog.Info("Ticket created", "ticketID", ticketID, "cid", cid, "address", sender)

	attached, err := h.attach(ctx, ticketID, bundle)

	event := notify.TicketCreated{TicketID: ticketID, CID: cid, Sender: sender, Attachments: attached}
	if perr := h.publisher.Publish(ctx, notify.TopicTicketCreated, event); perr != nil {
		slog.Warn("Failed to publish ticket event", "ticketID", ticketID, "error", perr)
	}
	return err
}

// attach uploads every staged file except the description. A failed upload
// does not stop the others; all failures are returned together.
func (h *Handler) attach(ctx context.Context, id models.TicketID, bundle Payload) ([]string, error) {
	names, err := bundle.Files()
	if err != nil {
		return nil, err
	}
	if len(names) <= 1 {
		return nil, nil
	}

	var attached []string
	var errs []error
	for _, name := range names {
		if name == payload.DescriptionFile {
			continue
		}
		if err := h.backend.CreateNoteWithAttachment(ctx, id, name, bundle.Path(name)); err != nil {
			h.metrics.Attachment(false)
			slog.Warn("Failed to attach file", "ticketID", id, "file", name, "error", err)
			errs = append(errs, fmt.Errorf("attaching %s: %w", name, err))
			continue
		}
		h.metrics.Attachment(true)
		attached = append(attached, name)
	}
	return attached, errors.Join(errs...)
}

type countingBackend struct {
	helpdesk.BackendService
	metrics *metrics.Metrics
}

func (b *countingBackend) CreateTicket(ctx context.Context, req models.TicketRequest) (models.TicketID, error) {
	id, err := b.BackendService.CreateTicket(ctx, req)
	if err != nil || id == 0 {
		b.metrics.TicketFailed()
	}
	return id, err
}
