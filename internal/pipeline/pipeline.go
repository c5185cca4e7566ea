package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"launch-helpdesk/internal/chain"
	"launch-helpdesk/internal/metrics"
	"launch-helpdesk/internal/models"
	"launch-helpdesk/internal/worker"
)

// Pipeline filters NewLaunch events and hands accepted ones to the worker pool.
type Pipeline struct {
	adminAddress string
	pool         worker.WorkerPoolService
	handler      HandlerService
	metrics      *metrics.Metrics
}

func New(adminAddress string, pool worker.WorkerPoolService, handler HandlerService, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		adminAddress: adminAddress,
		pool:         pool,
		handler:      handler,
		metrics:      m,
	}
}

// OnNewLaunch never blocks on handling and never panics: every failure is
// logged at warn level and dropped so the subscription keeps running.
func (p *Pipeline) OnNewLaunch(ev models.LaunchEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Problem in on new launch", "error", fmt.Errorf("panic: %v", r))
		}
	}()
	p.metrics.EventSeen()

	if ev.Robot != p.adminAddress {
		return
	}
	hash, err := chain.CID(ev.Param)
	if err != nil {
		slog.Warn("Problem in on new launch", "sender", ev.Sender, "error", err)
		return
	}
	p.metrics.EventAccepted()
	slog.Info("Ipfs hash", "cid", hash, "sender", ev.Sender)

	sender := ev.Sender
	jobID := p.pool.Submit("handle "+hash, func(ctx context.Context) error {
		return p.handler.Handle(ctx, hash, sender)
	})
	slog.Debug("Handling unit submitted", "jobID", jobID, "cid", hash)
}
