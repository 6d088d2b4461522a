package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/postgres"
)

// Runtime is the set of long-lived clients behind an Engine.
type Runtime struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Engine *goIdentity.Engine
	Audit  *postgres.AuditLog
	// Sessions is non-nil when sessions are kept in Postgres.
	Sessions *postgres.Sessions
}

// RedisOpts returns the connection options for asynq.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// RedisClient returns a go-redis client for the configured server.
func (c *Config) RedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
}

// Open connects to Postgres and Redis, applies the schema when
// AutoMigrate is set and builds the Engine. Close releases everything.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := postgres.Open(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rdb := cfg.RedisClient()
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	rt := &Runtime{
		Pool:  pool,
		Redis: rdb,
		Audit: postgres.NewAuditLog(pool),
	}
	builder := goIdentity.New().
		WithConfig(cfg.EngineConfig()).
		WithRedis(rdb).
		WithUserStore(postgres.NewUsers(pool)).
		WithCatalog(postgres.NewCatalog(pool)).
		WithAssignments(postgres.NewAssignments(pool)).
		WithAuditSink(rt.Audit).
		WithLogger(logger)
	if cfg.SessionBackend == SessionBackendPostgres {
		rt.Sessions = postgres.NewSessions(pool, nil)
		builder = builder.WithSessionStore(rt.Sessions)
	}

	rt.Engine, err = builder.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	logger.Info("engine ready", "session_backend", cfg.SessionBackend, "auto_migrate", cfg.AutoMigrate)
	return rt, nil
}

// Close stops the Engine and closes its clients.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.Engine != nil {
		r.Engine.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
