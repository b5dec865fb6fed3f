package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/cmd/odyssey-gl/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
)

func rulesCommand(rt *appEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect posting rules",
	}
	var opts cli.RulesListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List posting rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.NewContainer(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()
			opts.Stdout = cmd.OutOrStdout()
			return cli.ListRules(cmd.Context(), c.Rules, opts)
		},
	}
	list.Flags().StringVar(&opts.EventType, "event-type", "", "only rules of this event type")
	list.Flags().BoolVar(&opts.ActiveOnly, "active", false, "only active rules")
	list.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	cmd.AddCommand(list)
	return cmd
}

func periodsCommand(rt *appEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "Lock or unlock accounting periods",
	}
	var actor int64
	var notes string
	lock := func(locking bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid period id %q", args[0])
			}
			c, err := app.NewContainer(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()
			return cli.SetPeriodLock(cmd.Context(), c.Periods, id, actor, locking, notes, cmd.OutOrStdout())
		}
	}
	lockCmd := &cobra.Command{Use: "lock <id>", Short: "Lock a period", Args: cobra.ExactArgs(1), RunE: lock(true)}
	lockCmd.Flags().StringVar(&notes, "notes", "", "lock notes")
	unlockCmd := &cobra.Command{Use: "unlock <id>", Short: "Unlock a period", Args: cobra.ExactArgs(1), RunE: lock(false)}
	cmd.PersistentFlags().Int64Var(&actor, "actor", 0, "actor id recorded in the audit log")
	cmd.AddCommand(lockCmd, unlockCmd)
	return cmd
}

func jobsCommand(rt *appEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	withCLI := func(fn func(*cobra.Command, *cli.JobsCLI, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			jc, err := cli.NewJobsCLI(rt.cfg.RedisAddr, rt.cfg.IdempotencyRetention, rt.cfg.IntegrityLookbackDays)
			if err != nil {
				return err
			}
			defer jc.Close()
			return fn(cmd, jc, args)
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue ledger:integrity or idempotency:cleanup",
		Args:  cobra.ExactArgs(1),
		RunE: withCLI(func(cmd *cobra.Command, jc *cli.JobsCLI, args []string) error {
			info, err := jc.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s\n", info.Type, info.ID)
			return nil
		}),
	})
	var reason string
	release := &cobra.Command{
		Use:   "release <PR|PO> <id>",
		Short: "Release the encumbrances of a cancelled source document",
		Args:  cobra.ExactArgs(2),
		RunE: withCLI(func(cmd *cobra.Command, jc *cli.JobsCLI, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source id %q", args[1])
			}
			info, err := jc.ReleaseSource(cmd.Context(), args[0], id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s\n", info.Type, info.ID)
			return nil
		}),
	}
	release.Flags().StringVar(&reason, "reason", "", "recorded with the release")
	cmd.AddCommand(release)
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: withCLI(func(cmd *cobra.Command, jc *cli.JobsCLI, args []string) error {
			stats, err := jc.InspectQueues(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return nil
		}),
	})
	return cmd
}
