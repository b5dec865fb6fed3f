package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

func migrateCommand(rt *appEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(migrateDirection(rt, db.Up, "Apply pending migrations"))
	cmd.AddCommand(migrateDirection(rt, db.Down, "Roll back applied migrations"))
	return cmd
}

func migrateDirection(rt *appEnv, dir db.Direction, short string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   string(dir),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := db.Migrate(rt.cfg.PGDSN, dir, steps)
			if err != nil {
				return err
			}
			rt.logger.Info("migrations executed", slog.String("direction", string(dir)), slog.Int("count", n))
			return nil
		},
	}
	defaultSteps := 0
	if dir == db.Down {
		defaultSteps = 1
	}
	cmd.Flags().IntVar(&steps, "steps", defaultSteps, "maximum migrations to run (0 = all)")
	return cmd
}
