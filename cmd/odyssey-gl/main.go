// Command odyssey-gl runs the general ledger posting engine: the HTTP API,
// the background worker, schema migrations and operator commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/internal/app"
)

type appEnv struct {
	envFile string
	cfg     *app.Config
	logger  *slog.Logger
}

func (rt *appEnv) load(cmd *cobra.Command, args []string) error {
	var files []string
	if rt.envFile != "" {
		files = append(files, rt.envFile)
	}
	cfg, err := app.LoadConfig(files...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt.cfg = cfg
	rt.logger = app.NewLogger(cfg)
	slog.SetDefault(rt.logger)
	return nil
}

func newRootCommand() *cobra.Command {
	rt := &appEnv{}
	root := &cobra.Command{
		Use:               "odyssey-gl",
		Short:             "General ledger posting engine",
		SilenceUsage:      true,
		PersistentPreRunE: rt.load,
	}
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(serveCommand(rt))
	root.AddCommand(workerCommand(rt))
	root.AddCommand(migrateCommand(rt))
	root.AddCommand(rulesCommand(rt))
	root.AddCommand(periodsCommand(rt))
	root.AddCommand(jobsCommand(rt))
	return root
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
