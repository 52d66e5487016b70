// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/padaria-campaigns/internal/bootstrap"
	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/controller"
	"github.com/unclebandit/padaria-campaigns/internal/handler"
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
		WithFields(map[string]interface{}{"service": cfg.App.Name, "env": cfg.App.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	log.Info("server stopped", nil)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if n, err := app.Reconciler.Sweep(ctx); err != nil {
		log.Error("startup reconciliation failed", map[string]interface{}{"error": err})
	} else if n > 0 {
		log.Warn("paused campaigns interrupted by a previous process", map[string]interface{}{"count": n})
	}

	// Without a broker, commands and scheduled starts go through an in-process queue.
	var commands queue.Queue
	if cfg.AMQP.Enabled() {
		if commands, err = queue.DialAMQP(cfg.AMQP.URL, log); err != nil {
			return err
		}
	} else {
		commands = queue.NewInMemoryQueue(log)
		log.Info("amqp not configured, using in-process command queue", nil)
	}
	if err := queue.StartCampaignCommandSubscriber(commands, cfg.AMQP.Queue, app.Service, log); err != nil {
		commands.Close()
		return err
	}
	app.Scheduler.Starter = &queue.CommandPublisher{Queue: commands, Topic: cfg.AMQP.Queue}

	ctrl := &controller.CampaignController{CampaignService: app.Service, Log: log}
	campaigns := handler.NewCampaignHandler(app.Service, log)
	health := &handler.HealthHandler{DB: app.DB, Log: log}

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           controller.NewRouter(ctrl, campaigns, health, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server running", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Scheduler.Enabled {
		g.Go(func() error { return app.Scheduler.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.App.ShutdownTimeout))
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			commands.Close(),
			app.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}
