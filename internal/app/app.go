// Package app собирает компоненты opspulse из конфигурации.
// Используется и демоном, и CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/opspulse/internal/api"
	"github.com/shaiso/opspulse/internal/config"
	"github.com/shaiso/opspulse/internal/mq"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/runner"
	"github.com/shaiso/opspulse/internal/scheduler"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// Options — что поднимать помимо хранилища и scheduler'а.
type Options struct {
	// WithMQ подключает RabbitMQ, если он включён в конфигурации.
	WithMQ bool

	// Transport подменяет HTTP-транспорт runner'а (тесты).
	Transport runner.Transport
}

// App — собранные компоненты.
type App struct {
	Config    *config.Config
	Store     repo.Store
	Scheduler *scheduler.Scheduler
	Registry  *prometheus.Registry
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger

	// MQ и Publisher — nil, если RabbitMQ не подключён.
	MQ        *mq.Connection
	Publisher *mq.Publisher
}

// New открывает хранилище (с миграциями, если включены), подключает
// RabbitMQ и собирает scheduler.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	store, err := repo.Open(ctx, repo.Options{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
		Migrate:  cfg.Store.Migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "driver", cfg.Store.Driver)

	a := &App{
		Config:   cfg,
		Store:    store,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = telemetry.NewMetrics(a.Registry)
	if pg, ok := store.(*repo.PostgresStore); ok {
		telemetry.RegisterPgxPoolMetrics(a.Registry, pg.Pool())
	}

	if opts.WithMQ && cfg.MQ.Enabled {
		if err := a.connectMQ(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	r := runner.New(runner.Config{
		Transport:    opts.Transport,
		Timeout:      cfg.Runner.Timeout.Std(),
		Retries:      cfg.Runner.Retries,
		Backoff:      cfg.Runner.Backoff.Std(),
		BackoffMax:   cfg.Runner.BackoffMax.Std(),
		MaxBodyBytes: cfg.Runner.MaxBodyBytes,
		Logger:       logger,
	})

	schedCfg := scheduler.Config{
		Routines:       store,
		Runs:           store,
		Runner:         r,
		Metrics:        a.Metrics,
		Logger:         logger,
		InstanceID:     cfg.InstanceID,
		DueSlack:       cfg.Scheduler.DueSlack.Std(),
		BatchLimit:     cfg.Scheduler.BatchLimit,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		Lease:          cfg.Scheduler.Lease.Std(),
	}
	if a.Publisher != nil {
		schedCfg.Notifier = a.Publisher
	}
	a.Scheduler, err = scheduler.New(schedCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connectMQ() error {
	conn, err := mq.NewConnection(a.Config.MQ.URL, "opspulse/"+a.Config.InstanceID, a.Logger)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	if err := mq.SetupTopology(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("setup topology: %w", err)
	}
	a.MQ = conn
	a.Publisher = mq.NewPublisher(conn, a.Logger)
	return nil
}

// APIHandler собирает HTTP-поверхность.
func (a *App) APIHandler() *api.Handler {
	cfg := api.Config{
		Scheduler:    a.Scheduler,
		Store:        a.Store,
		Gatherer:     a.Registry,
		TriggerRPS:   a.Config.API.TriggerRPS,
		TriggerBurst: a.Config.API.TriggerBurst,
		Logger:       a.Logger,
	}
	if a.Publisher != nil {
		cfg.Publisher = a.Publisher
	}
	return api.NewHandler(cfg)
}

// TriggerConsumer — consumer очереди ручных запусков. Nil без RabbitMQ.
func (a *App) TriggerConsumer() *mq.Consumer {
	if a.MQ == nil {
		return nil
	}
	return mq.NewConsumer(a.MQ, a.Logger, mq.ConsumerConfig{
		Queue:    mq.QueueTrigger,
		Handler:  mq.TriggerHandler(a.Scheduler, a.Logger),
		Prefetch: a.Config.Scheduler.MaxConcurrency,
	})
}

// Close закрывает RabbitMQ и хранилище.
func (a *App) Close() error {
	var errs []error
	if a.MQ != nil {
		errs = append(errs, a.MQ.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
