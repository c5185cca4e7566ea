package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"launch-helpdesk/internal/metrics"
	"launch-helpdesk/internal/models"
)

type WorkerPoolService interface {
	Submit(name string, run func(ctx context.Context) error) string
	Stop()
}

// WorkerPool runs one goroutine per submitted job, at most workerCount at a
// time. Submit never blocks: jobs past the limit wait for a slot in their own
// goroutine.
type WorkerPool struct {
	ctx           context.Context
	wg            sync.WaitGroup // tracks every submitted job so Stop can wait for them
	cancelWorkers context.CancelFunc
	sem           *semaphore.Weighted // nil when unbounded
	mu            sync.RWMutex        // guards stopped against wg.Add racing wg.Wait
	stopped       bool
	metrics       *metrics.Metrics
}

// NewWorkerPool returns a pool bounded to workerCount concurrent jobs; 0 means unbounded.
func NewWorkerPool(ctx context.Context, workerCount int, m *metrics.Metrics) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		ctx:           workerCtx,
		cancelWorkers: cancel,
		metrics:       m,
	}
	if workerCount > 0 {
		pool.sem = semaphore.NewWeighted(int64(workerCount))
	}
	return pool
}

// Submit schedules run and returns the job id used in its log lines.
func (wp *WorkerPool) Submit(name string, run func(ctx context.Context) error) string {
	job := models.JobRequest{ID: uuid.NewString(), Name: name, Run: run}
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		slog.Warn("Worker pool stopped, job rejected", "job", name, "jobID", job.ID)
		return job.ID
	}
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		if wp.sem != nil {
			if err := wp.sem.Acquire(wp.ctx, 1); err != nil { // acquire slot
				slog.Warn("Job dropped before start", "job", name, "jobID", job.ID, "error", err)
				return
			}
			defer wp.sem.Release(1) // release slot
		}
		if err := wp.ctx.Err(); err != nil {
			slog.Warn("Job dropped before start", "job", name, "jobID", job.ID, "error", err)
			return
		}

		wp.metrics.HandlerStarted()
		err := NewWorker(wp.ctx, job.ID).Run(job)
		wp.metrics.HandlerDone(err)
		if err != nil {
			slog.Error("Job failed", "job", name, "jobID", job.ID, "error", err)
		} else {
			slog.Info("Job completed", "job", name, "jobID", job.ID)
		}
	}()
	return job.ID
}

// Stop cancels the pool context and waits for every submitted job to return.
func (wp *WorkerPool) Stop() {
	slog.Info("Stopping worker pool...")
	wp.mu.Lock()
	wp.stopped = true
	wp.mu.Unlock()
	wp.cancelWorkers()
	slog.Info("Waiting for workers to finish current job...")
	wp.wg.Wait()
	slog.Info("Worker pool stop completed")
}

// wait blocks until all jobs submitted so far have returned, without cancelling them.
func (wp *WorkerPool) wait() {
	wp.wg.Wait()
}
