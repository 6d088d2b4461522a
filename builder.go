package goIdentity

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/session"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Builder assembles an Engine. A Builder can be built exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserStore
	catalog     rbac.Catalog
	assignments rbac.AssignmentStore
	sessions    session.Store
	auditSink   AuditSink
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is deep-copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, rate limiters and
// reset/verification tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user repository.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithCatalog sets the role and permission catalog.
func (b *Builder) WithCatalog(catalog rbac.Catalog) *Builder {
	b.catalog = catalog
	return b
}

// WithAssignments sets the user role and grant store.
func (b *Builder) WithAssignments(assignments rbac.AssignmentStore) *Builder {
	b.assignments = assignments
	return b
}

// WithSessionStore overrides the Redis session store, for example with the
// Postgres implementation.
func (b *Builder) WithSessionStore(sessions session.Store) *Builder {
	b.sessions = sessions
	return b
}

// WithAuditSink sets the audit destination. Without one, audit entries are
// discarded.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the clock used for token issuance, session expiry
// and rbac expiry evaluation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.catalog == nil || b.assignments == nil {
		return nil, errors.New("rbac catalog and assignment store required")
	}
	if b.redis == nil {
		if b.sessions == nil {
			return nil, errors.New("redis client or session store required")
		}
		if cfg.PasswordReset.Enabled {
			return nil, errors.New("PasswordReset requires redis client")
		}
		if cfg.EmailVerification.Enabled {
			return nil, errors.New("EmailVerification requires redis client")
		}
		if rateLimitingConfigured(cfg.RateLimit) {
			return nil, errors.New("RateLimit requires redis client")
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "goIdentity")

	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		users:   b.users,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- SESSIONS / REDIS-BACKED STATE --------
	engine.sessions = b.sessions
	if engine.sessions == nil {
		engine.sessions = session.NewRedisStore(b.redis, session.RedisOptions{
			Prefix: cfg.Session.RedisPrefix,
			Now:    now,
		})
	}
	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:                  cfg.Session.RedisPrefix,
			EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:        cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:             cfg.RateLimit.LoginWindow,
			EnableRefreshThrottle:   cfg.RateLimit.EnableRefreshThrottle,
			MaxRefreshAttempts:      cfg.RateLimit.MaxRefreshAttempts,
			RefreshWindow:           cfg.RateLimit.RefreshWindow,
			MaxResetRequests:        cfg.RateLimit.MaxResetRequests,
			ResetWindow:             cfg.RateLimit.ResetWindow,
			MaxVerificationRequests: cfg.RateLimit.MaxVerificationRequests,
			VerificationWindow:      cfg.RateLimit.VerificationWindow,
		})
		engine.challenges = stores.NewChallengeStore(b.redis, cfg.Session.RedisPrefix, now)
	}

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		engine.audit = audit.NewDispatcher(b.auditSink, audit.Options{
			Async:        cfg.Audit.Async,
			BufferSize:   cfg.Audit.BufferSize,
			DropIfFull:   cfg.Audit.DropIfFull,
			WriteTimeout: cfg.Audit.WriteTimeout,
			Logger:       logger,
			OnFailure: func(audit.Entry, error) {
				engine.metricInc(MetricAuditFailure)
			},
		})
	}

	// -------- RBAC --------
	users := b.users
	rbacOpts := []rbac.Option{
		rbac.WithCache(cfg.RBAC.CacheTTL),
		rbac.WithClock(now),
		rbac.WithLogger(logger),
		rbac.WithAuditor(engineAuditor{dispatcher: engine.audit}),
		rbac.WithLevelGateDirectGrants(cfg.RBAC.LevelGateDirectGrants),
		rbac.WithUserLookup(func(ctx context.Context, userID string) error {
			u, err := users.FindByID(ctx, userID)
			if err == nil && u == nil {
				return ErrNotFound
			}
			return err
		}),
	}
	var invalidator *rbac.RedisInvalidator
	if cfg.RBAC.CacheTTL > 0 && b.redis != nil {
		invalidator = rbac.NewRedisInvalidator(b.redis, rbac.InvalidationChannel(cfg.Session.RedisPrefix))
		rbacOpts = append(rbacOpts, rbac.WithNotifier(invalidator))
	}
	engine.rbac = rbac.New(b.catalog, b.assignments, rbacOpts...)
	if invalidator != nil {
		stop, err := invalidator.Attach(context.Background(), engine.rbac)
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.stopInvalidation = stop
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		Policy: password.Policy{
			MinLength:     cfg.Password.MinLength,
			RequireUpper:  cfg.Password.RequireUpper,
			RequireLower:  cfg.Password.RequireLower,
			RequireDigit:  cfg.Password.RequireDigit,
			RequireSymbol: cfg.Password.RequireSymbol,
		},
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.hasher = hasher

	filler, err := hasher.Policy().Generate(cfg.Password.MinLength + 8)
	if err == nil {
		engine.dummyHash, err = hasher.Hash(filler)
	}
	if err != nil {
		engine.Close()
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.jwt = jm

	// -------- INPUT VALIDATION --------
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		engine.Close()
		return nil, err
	}
	engine.validate = v

	b.built = true

	return engine, nil
}

func rateLimitingConfigured(rl RateLimitConfig) bool {
	return rl.MaxLoginAttempts > 0 ||
		(rl.EnableRefreshThrottle && rl.MaxRefreshAttempts > 0) ||
		rl.MaxResetRequests > 0 ||
		rl.MaxVerificationRequests > 0
}
