// Package bootstrap assembles the campaign engine shared by the server and worker binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/padaria-campaigns/internal/config"
	"github.com/unclebandit/padaria-campaigns/internal/db"
	"github.com/unclebandit/padaria-campaigns/internal/gateway"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/registry"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

type App struct {
	Config     *config.Config
	Log        logger.Logger
	DB         *sql.DB
	Redis      *redis.Client
	Registry   *registry.Registry
	Dispatcher *service.Dispatcher
	Service    *service.CampaignService
	Scheduler  *service.Scheduler
	Reconciler *service.Reconciler
}

// New opens the database (and Redis when configured) and wires repositories, gateway and services.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.Database.Postgres, log)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Log: log, DB: conn, Registry: registry.New()}

	var lease registry.Lease = registry.NoopLease{}
	var heartbeat time.Duration
	if cfg.Database.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Database.Redis.Address,
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			conn.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		app.Redis = client
		ttl := config.GetDuration(cfg.Lease.TTL)
		lease = registry.NewRedisLease(client, cfg.Lease.Prefix, ttl)
		heartbeat = min(30*time.Second, ttl/3)
		log.Info("campaign lease backed by redis", map[string]interface{}{"address": cfg.Database.Redis.Address})
	} else {
		log.Warn("redis not configured, campaign lease is process-local", nil)
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	taskRepo := &repository.RecipientTaskRepository{DB: conn}
	tenantRepo := &repository.TenantRepository{DB: conn}

	provider := gateway.NewProvider(cfg.Gateway, &http.Client{}, log)
	if cfg.Gateway.BaseURL == "" {
		log.Warn("gateway base_url not configured, campaigns will fail setup", nil)
	}

	app.Dispatcher = service.NewDispatcher(service.DispatcherDeps{
		Campaigns:     campaignRepo,
		Tasks:         taskRepo,
		Tenants:       tenantRepo,
		Gateways:      provider,
		Media:         gateway.NewFileMediaLoader(cfg.Media.Root),
		Registry:      app.Registry,
		Lease:         lease,
		Logger:        log,
		VerifyOnStart: cfg.Gateway.VerifyOnStart,
		Heartbeat:     heartbeat,
	})

	app.Service = &service.CampaignService{
		CampaignRepo: campaignRepo,
		TaskRepo:     taskRepo,
		Dispatcher:   app.Dispatcher,
		Builder: &service.CampaignBuilder{
			Offers:    &repository.OfferRepository{DB: conn},
			Tenants:   tenantRepo,
			Customers: &repository.CustomerRepository{DB: conn},
			Campaigns: campaignRepo,
			Defaults: model.Pacing{
				DelayMinSeconds:   cfg.Pacing.DelayMinSeconds,
				DelayMaxSeconds:   cfg.Pacing.DelayMaxSeconds,
				BatchSize:         cfg.Pacing.BatchSize,
				BatchPauseSeconds: cfg.Pacing.BatchPauseSeconds,
			},
			Log: log,
		},
	}

	app.Scheduler = &service.Scheduler{
		Campaigns: campaignRepo,
		Starter:   app.Service,
		Interval:  config.GetDuration(cfg.Scheduler.PollInterval),
		BatchSize: cfg.Scheduler.BatchSize,
		Log:       log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}

	app.Reconciler = &service.Reconciler{
		Campaigns: campaignRepo,
		Tasks:     taskRepo,
		Registry:  app.Registry,
		Lease:     lease,
		Log:       log.WithFields(map[string]interface{}{"component": "reconciler"}),
	}
	return app, nil
}

// Shutdown stops every campaign loop, bounded by ctx.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Dispatcher.Shutdown(ctx)
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
