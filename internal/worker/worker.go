package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"launch-helpdesk/internal/models"
)

type WorkerService interface {
	Run(job models.JobRequest) error
}

// Worker executes a single job. A panicking job is reported as an error so
// it cannot take the process down.
type Worker struct {
	id  string
	ctx context.Context
}

func NewWorker(ctx context.Context, id string) *Worker {
	return &Worker{
		id:  id,
		ctx: ctx,
	}
}

func (w *Worker) Run(job models.JobRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "job", job.Name, "jobID", w.id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	slog.Debug("Handling job", "job", job.Name, "jobID", w.id)
	return job.Run(w.ctx)
}
