package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
	"github.com/odyssey-erp/odyssey-gl/internal/budget"
	"github.com/odyssey-erp/odyssey-gl/internal/matching"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Container holds the wired services shared by the server, the worker and
// the admin commands.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	Audit       *shared.AuditLogger
	Idempotency *shared.IdempotencyStore
	Integrity   *journals.IntegrityChecker

	Accounts *accounts.Service
	Registry *accounts.Registry
	Rules    *rules.Service
	Periods  *periods.Service
	Journals *journals.Service
	Posting  *posting.Service
	Budget   *budget.Service
	Matching *matching.Service
}

// NewContainer connects to Postgres (and Redis when configured) and wires
// every service.
func NewContainer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGConnectTimeout, logger)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, 5*time.Second)
	if err != nil {
		logger.Warn("redis unavailable, rule cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	c := &Container{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Redis:       redisClient,
		Metrics:     observability.NewMetrics(),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Integrity:   journals.NewIntegrityChecker(pool),
	}

	accountRepo := accounts.NewRepository(pool)
	c.Registry = accounts.NewRegistry(accountRepo)
	c.Accounts = accounts.NewService(accountRepo, c.Registry)

	ruleStore := rules.NewCachedStore(
		rules.NewRepository(pool),
		cache.NewVersioned(redisClient, "odyssey-gl:rules", cfg.RuleCacheTTL),
		logger,
	)
	c.Rules = rules.NewService(ruleStore, c.Registry, journals.CheckSample, logger)
	c.Periods = periods.NewService(periods.NewRepository(pool), c.Audit, logger)
	c.Journals = journals.NewService(journals.NewRepository(pool), c.Registry, c.Audit, logger)
	c.Posting = posting.NewService(ruleStore, c.Journals, c.Metrics, logger)
	c.Budget = budget.NewService(budget.NewRepository(pool), c.Audit, c.Metrics, logger)
	c.Matching = matching.NewService(matching.NewRepository(pool), c.Posting, c.Audit, cfg.MatchTolerance(), logger)

	return c, nil
}

// RedisOpts returns the asynq connection options.
func (c *Container) RedisOpts() (asynq.RedisClientOpt, error) {
	if c.Config.RedisAddr == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("app: REDIS_ADDR is required for the queue")
	}
	return asynq.RedisClientOpt{Addr: c.Config.RedisAddr}, nil
}

// Close releases connections.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	c.Pool.Close()
}
