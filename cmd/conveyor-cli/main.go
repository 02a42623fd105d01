// Conveyor CLI — инструмент командной строки для управления
// очередями и jobs через HTTP API.
//
// Использование:
//
//	conveyor-cli [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	queue   Управление очередями
//	job     Управление jobs
//	events  Поток событий
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conveyor-cli",
		Short:         "Conveyor CLI — background job queue management",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("CONVEYOR_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (env CONVEYOR_API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewQueueCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewEventsCmd(clientFn, outputFn),
	)

	// Ctrl+C завершает поток событий без ошибки
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
