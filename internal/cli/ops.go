package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/opspulse/internal/app"
	"github.com/shaiso/opspulse/internal/config"
	"github.com/shaiso/opspulse/internal/mq"
	"github.com/shaiso/opspulse/internal/repo"
	"github.com/shaiso/opspulse/internal/telemetry"
)

// NewTickCmd — один тик scheduler'а напрямую по хранилищу.
// Для внешнего расписания: k8s CronJob, systemd timer, serverless timer.
func NewTickCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler tick against the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()
			logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			a, err := app.New(cmd.Context(), cfg, logger, app.Options{WithMQ: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Scheduler.TickTimeout.Std())
			defer cancel()

			res, err := a.Scheduler.Tick(ctx)
			if err != nil {
				return err
			}
			out.Fields([][2]string{
				{"Due", strconv.Itoa(res.Due)},
				{"Claimed", strconv.Itoa(res.Claimed)},
				{"Claim lost", strconv.Itoa(res.ClaimLost)},
				{"Deferred", strconv.Itoa(res.Deferred)},
				{"Succeeded", strconv.Itoa(res.Succeeded)},
				{"Failed", strconv.Itoa(res.Failed)},
				{"Record errors", strconv.Itoa(res.RecordErrors)},
			}, res)
			return nil
		},
	}
}

// NewMigrateCmd — применить миграции хранилища.
func NewMigrateCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			n, err := repo.MigrateOnly(cmd.Context(), repo.Options{
				Driver:   cfg.Store.Driver,
				DSN:      cfg.Store.DSN,
				MaxConns: 2,
			})
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Applied %d migration(s) to %s store", n, cfg.Store.Driver))
			return nil
		},
	}
}

// NewTopologyCmd — описание топологии RabbitMQ.
func NewTopologyCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Describe the RabbitMQ topology",
		Run: func(_ *cobra.Command, _ []string) {
			out := outputFn()
			fmt.Fprintln(out.w, mq.TopologyInfo())
		},
	}
}
