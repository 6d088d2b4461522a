package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero Max disables the
// corresponding check.
type Config struct {
	Prefix string

	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginWindow      time.Duration

	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration

	MaxResetRequests int
	ResetWindow      time.Duration

	MaxVerificationRequests int
	VerificationWindow      time.Duration
}

// Limiter enforces fixed-window limits with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "gi"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin reports ErrRateLimited when the identifier, or the IP when IP
// throttling is on, has used up its failed-login budget. It does not count
// the attempt; IncrementLogin does that on failure.
//
// Login windows are global: identifiers are unique across tenants, so a
// caller switching tenants still draws on the same budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, l.loginUserKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the identifier+IP pair.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if _, err := l.incrementWithTTL(ctx, l.loginUserKey(identifier), l.config.LoginWindow); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginWindow); err != nil {
			return err
		}
	}

	return nil
}

// ResetLogin clears the identifier counter after a successful login. The
// IP counter is left alone so one good account cannot launder a sprayed IP.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.loginUserKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the failed-attempt counter for an identifier.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginUserKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// CheckRefresh counts a refresh attempt against the session and reports
// ErrRateLimited once the window budget is exceeded.
func (l *Limiter) CheckRefresh(ctx context.Context, tenantID, sessionID string) error {
	if !l.config.EnableRefreshThrottle || l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	return l.hit(ctx, l.refreshKey(tenantID, sessionID), l.config.MaxRefreshAttempts, l.config.RefreshWindow)
}

// CheckReset counts a password reset request for the identifier and, when
// IP throttling is on, for the IP.
func (l *Limiter) CheckReset(ctx context.Context, identifier, ip string) error {
	if l.config.MaxResetRequests <= 0 {
		return nil
	}
	if err := l.hit(ctx, l.resetKey(identifier), l.config.MaxResetRequests, l.config.ResetWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.hit(ctx, l.resetIPKey(ip), l.config.MaxResetRequests, l.config.ResetWindow)
	}
	return nil
}

// CheckVerification counts an email verification request for the user.
func (l *Limiter) CheckVerification(ctx context.Context, userID string) error {
	if l.config.MaxVerificationRequests <= 0 {
		return nil
	}
	return l.hit(ctx, l.verificationKey(userID), l.config.MaxVerificationRequests, l.config.VerificationWindow)
}

func (l *Limiter) hit(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
