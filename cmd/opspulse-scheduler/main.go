// opspulse-scheduler — демон планировщика routines.
//
// Запускает тики по scheduler.tick_schedule, HTTP-поверхность (ручной запуск,
// /healthz, /metrics) и, если RabbitMQ включён, consumer ручных запусков.
// Любое количество инстансов может работать одновременно.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/opspulse/internal/app"
	"github.com/shaiso/opspulse/internal/config"
	"github.com/shaiso/opspulse/internal/scheduler"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "opspulse-scheduler",
		Short:         "OpsPulse routine scheduler daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config (default $"+config.EnvConfigPath+")")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format).With("instance_id", cfg.InstanceID)
	logger.Info("starting opspulse-scheduler", "version", version)

	a, err := app.New(ctx, cfg, logger, app.Options{WithMQ: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close", "error", err)
		}
	}()

	cadence, err := scheduler.NewCadence(a.Scheduler, cfg.Scheduler.TickSchedule, cfg.Scheduler.TickTimeout.Std(), logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           a.APIHandler().Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Синхронный ручной запуск длится до худшего времени выполнения.
		WriteTimeout: cfg.WorstCaseExecution() + 10*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return cadence.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if consumer := a.TriggerConsumer(); consumer != nil {
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("trigger consumer: %w", err)
			}
			return nil
		})
	}

	notify(logger, daemon.SdNotifyReady)
	err = g.Wait()
	notify(logger, daemon.SdNotifyStopping)

	logger.Info("stopped")
	return err
}

// notify сообщает systemd о состоянии; вне systemd ничего не делает.
func notify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify failed", "state", state, "error", err)
	}
}
