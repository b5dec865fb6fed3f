package main

import (
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func workerCommand(rt *appEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued events and scheduled ledger jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := app.NewContainer(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()
			opts, err := c.RedisOpts()
			if err != nil {
				return err
			}

			integrityTask, err := jobs.NewLedgerIntegrityTask(rt.cfg.IntegrityLookbackDays)
			if err != nil {
				return err
			}
			cleanupTask, err := jobs.NewIdempotencyCleanupTask(rt.cfg.IdempotencyRetention)
			if err != nil {
				return err
			}

			worker, err := jobs.NewWorker(jobs.WorkerConfig{
				RedisOpts:   opts,
				Logger:      rt.logger,
				Concurrency: rt.cfg.WorkerConcurrency,
				Handlers: []jobs.TaskHandler{
					{Type: jobs.TaskPostingEvent, Handler: jobs.NewPostingEventJob(c.Posting, rt.logger, c.Metrics).Handle},
					{Type: jobs.TaskBudgetRelease, Handler: jobs.NewBudgetReleaseJob(c.Budget, rt.logger, c.Metrics).Handle},
					{Type: jobs.TaskLedgerIntegrity, Handler: jobs.NewLedgerIntegrityJob(c.Integrity, rt.logger, c.Metrics).Handle},
					{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupJob(c.Idempotency, rt.logger, c.Metrics).Handle},
				},
				Cron: []jobs.CronRegistration{
					{Spec: "30 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
					{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
				},
			})
			if err != nil {
				return err
			}
			return worker.Run(ctx)
		},
	}
}
