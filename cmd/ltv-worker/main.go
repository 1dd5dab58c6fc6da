// Command ltv-worker rebuilds the metrics table on AMQP recompute requests
// and on a fixed interval.
package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/amqp"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/cli"
	applog "github.com/Kazza-miya/cascade-sales-dashboard/internal/log"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/services"
	"github.com/Kazza-miya/cascade-sales-dashboard/internal/worker"
)

// consumerRetry is the pause before re-subscribing after the broker drops us.
const consumerRetry = 5 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err != nil {
		cli.Fatal(applog.Setup("info", "text", applog.ComponentWorker), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting ltv-worker",
		"driver", cfg.DBDriver,
		"interval", cfg.RecomputeInterval.String(),
		"amqp", cfg.AMQPURL != "")

	ctx, stop := cli.SignalContext()
	defer stop()

	repo, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to open metrics store", err)
	}
	defer repo.Close()

	amqpClient, err := cli.NewAMQPClient(cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	// The worker computes itself, so it never publishes.
	svc := services.NewMetricsService(repo, repo, nil, cli.ServiceConfig(cfg))
	recomputeWorker := worker.NewRecomputeWorker(svc)
	scheduler := services.NewScheduler(recomputeWorker, services.SchedulerConfig{
		Interval:   cfg.RecomputeInterval,
		RunOnStart: true,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if amqpClient != nil {
		g.Go(func() error {
			return consume(gctx, amqpClient, recomputeWorker, logger)
		})
	} else {
		logger.Info("AMQP disabled - running scheduled recomputes only")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		cli.Fatal(logger, "Worker stopped", err)
	}
	logger.Info("Worker shutdown complete")
}

// consume keeps a subscription open until ctx is done.
func consume(ctx context.Context, client *amqp.Client, w *worker.RecomputeWorker, logger *applog.Logger) error {
	for {
		err := client.ConsumeRecompute(ctx, w.HandleRecomputeMessage)
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnContext(ctx, "Recompute consumer stopped, resubscribing",
			applog.FieldOperation, applog.OpConsume,
			applog.FieldError, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(consumerRetry):
		}
	}
}
