package main

import (
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/internal/budget"
	"github.com/odyssey-erp/odyssey-gl/internal/matching"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func serveCommand(rt *appEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := app.NewContainer(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			postingHandler := posting.NewHandler(rt.logger, c.Posting, c.Idempotency, rt.cfg.EventsRateLimit)
			var jobsHandler *jobs.Handler
			if opts, err := c.RedisOpts(); err == nil && c.Redis != nil {
				client := jobs.NewClient(opts)
				defer client.Close()
				postingHandler.WithQueue(client)

				inspector := asynq.NewInspector(opts)
				defer inspector.Close()
				jobsHandler = jobs.NewHandler(inspector, rt.logger)
			} else {
				rt.logger.Warn("queue disabled, events are posted synchronously only")
				jobsHandler = jobs.NewHandler(nil, rt.logger)
			}

			router := app.NewRouter(app.RouterParams{
				Logger:          rt.logger,
				Config:          rt.cfg,
				Metrics:         c.Metrics,
				DB:              c.Pool,
				AccountsHandler: accounts.NewHandler(rt.logger, c.Accounts),
				RulesHandler:    rules.NewHandler(rt.logger, c.Rules),
				PeriodsHandler:  periods.NewHandler(rt.logger, c.Periods),
				JournalsHandler: journals.NewHandler(rt.logger, c.Journals),
				PostingHandler:  postingHandler,
				BudgetHandler:   budget.NewHandler(rt.logger, c.Budget),
				MatchingHandler: matching.NewHandler(rt.logger, c.Matching),
				JobsHandler:     jobsHandler,
			})
			err = app.Serve(ctx, rt.cfg, rt.logger, router)
			rt.logger.Info("server stopped", slog.Any("error", err))
			return err
		},
	}
}
