// opspulse-cli — инструмент оператора OpsPulse.
//
// Использование:
//
//	opspulse-cli [--api-url URL] [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	trigger   Ручной запуск routine
//	runs      История запусков routine
//	show      Routine и её расписание
//	health    Состояние scheduler'а и хранилища
//	tick      Один тик по хранилищу (для внешнего расписания)
//	migrate   Миграции хранилища
//	topology  Описание очередей RabbitMQ
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/opspulse/internal/cli"
	"github.com/shaiso/opspulse/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		apiURL     string
		configPath string
		jsonOutput bool
	)

	rootCmd := &cobra.Command{
		Use:           "opspulse-cli",
		Short:         "OpsPulse CLI — routine scheduler operations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("OPSPULSE_API_URL", "http://localhost:8081"), "Scheduler API URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	configFn := func() (*config.Config, error) { return config.Load(configPath) }

	rootCmd.AddCommand(
		cli.NewTriggerCmd(clientFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
		cli.NewShowCmd(clientFn, outputFn),
		cli.NewHealthCmd(clientFn, outputFn),
		cli.NewTickCmd(configFn, outputFn),
		cli.NewMigrateCmd(configFn, outputFn),
		cli.NewTopologyCmd(outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
