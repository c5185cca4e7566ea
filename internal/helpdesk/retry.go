package helpdesk

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"launch-helpdesk/internal/models"
)

// CreateTicketWithRetry keeps calling CreateTicket, waiting delay between
// attempts, until it returns a valid id. Only ctx cancellation stops it.
func CreateTicketWithRetry(ctx context.Context, backend BackendService, req models.TicketRequest, delay time.Duration, clock clockwork.Clock) (models.TicketID, error) {
	var id models.TicketID
	attempt := 0
	op := func() error {
		attempt++
		slog.Debug("Creating ticket...", "address", req.AddressFrom, "attempt", attempt)
		got, err := backend.CreateTicket(ctx, req)
		if err != nil {
			return err
		}
		if got == 0 {
			return ErrInvalidTicketID
		}
		id = got
		return nil
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("Failed to create ticket, retrying", "address", req.AddressFrom, "attempt", attempt, "retryIn", next, "error", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(delay), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: clock}); err != nil {
		return 0, err
	}
	return id, nil
}

// clockTimer drives backoff from a clockwork clock so tests can fake time.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
