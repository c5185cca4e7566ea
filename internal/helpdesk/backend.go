package helpdesk

import (
	"context"
	"errors"

	"launch-helpdesk/internal/models"
)

// ErrInvalidTicketID is returned when the backend answers a create call
// without a usable ticket id.
var ErrInvalidTicketID = errors.New("helpdesk returned no ticket id")

type BackendService interface {
	CreateTicket(ctx context.Context, req models.TicketRequest) (models.TicketID, error)
	CreateNoteWithAttachment(ctx context.Context, id models.TicketID, fileName, filePath string) error
}
