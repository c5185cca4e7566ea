package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"

	"launch-helpdesk/internal/chain"
	"launch-helpdesk/internal/config"
	"launch-helpdesk/internal/helpdesk"
	"launch-helpdesk/internal/metrics"
	"launch-helpdesk/internal/notify"
	"launch-helpdesk/internal/payload"
	"launch-helpdesk/internal/pipeline"
	"launch-helpdesk/internal/subscriber"
	"launch-helpdesk/internal/worker"
)

type App struct {
	ctx        context.Context
	cfg        *config.Config
	manager    *subscriber.Manager
	workerPool worker.WorkerPoolService
	publisher  notify.Publisher
}

func SetupLogger(level slog.Level) {
	w := os.Stderr
	logger := slog.New(
		tint.NewHandler(w, &tint.Options{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok {
					aErr := tint.Err(err)
					aErr.Key = a.Key
					return aErr
				}
				return a
			},
		}),
	)
	slog.SetDefault(logger)
}

func main() {
	SetupLogger(slog.LevelInfo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalCh:
			slog.Info("Received termination signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(78)
	}
	SetupLogger(cfg.LogLevel)
	slog.Info("Starting launch helpdesk", "admin", cfg.AdminAddress, "endpoint", cfg.WSSEndpoint)

	app, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	app.run()
}

func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.NATSURL != "" {
		p, err := notify.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	getter, err := payload.NewIPFSGetter(cfg.IPFSAPIURL)
	if err != nil {
		return nil, err
	}
	fetcher := payload.NewFetcher(getter, cfg.StagingDir, cfg.MaxBundleSize)

	odoo, err := helpdesk.NewOdoo(cfg.OdooURL, cfg.OdooDB, cfg.OdooUser, cfg.OdooPassword)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	workerPool := worker.NewWorkerPool(ctx, int(cfg.WorkerCount), m)
	handler := pipeline.NewHandler(pipeline.Bundles(fetcher), odoo, publisher, clock, cfg.RetryDelay, m)
	events := pipeline.New(cfg.AdminAddress, workerPool, handler, m)
	manager := subscriber.NewManager(chain.NewSubstrate(cfg.WSSEndpoint), events, clock, cfg.LivenessEvery, m)

	return &App{
		ctx:        ctx,
		cfg:        cfg,
		manager:    manager,
		workerPool: workerPool,
		publisher:  publisher,
	}, nil
}

func (app *App) run() {
	app.manager.Run(app.ctx) // Blocks until the context is cancelled
	slog.Info("Context cancelled, stopping")
	app.workerPool.Stop()
	if err := app.publisher.Close(); err != nil {
		slog.Warn("Failed to close publisher", "error", err)
	}
}
