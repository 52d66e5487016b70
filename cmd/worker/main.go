// cmd/worker/main.go runs the dispatcher without HTTP, driven by AMQP commands and the scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/padaria-campaigns/internal/bootstrap"
	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format).
		WithFields(map[string]interface{}{"service": cfg.App.Name + "-worker"})

	if !cfg.AMQP.Enabled() {
		log.Error("amqp.url is required for the worker", nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped with error", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	log.Info("worker stopped", nil)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Reconciler.Sweep(ctx); err != nil {
		log.Error("startup reconciliation failed", map[string]interface{}{"error": err})
	}

	q, err := queue.DialAMQP(cfg.AMQP.URL, log)
	if err != nil {
		return err
	}
	if err := queue.StartCampaignCommandSubscriber(q, cfg.AMQP.Queue, app.Service, log); err != nil {
		q.Close()
		return err
	}
	// Due campaigns are handed to whichever worker takes the command off the queue.
	app.Scheduler.Starter = &queue.CommandPublisher{Queue: q, Topic: cfg.AMQP.Queue}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return app.Scheduler.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("worker running, waiting for commands", map[string]interface{}{"queue": cfg.AMQP.Queue})
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.App.ShutdownTimeout))
		defer cancel()
		return errors.Join(q.Close(), app.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
