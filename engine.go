package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/session"
)

// Engine is the session lifecycle manager. It authenticates users against
// the UserStore, issues access and refresh tokens carrying an rbac
// snapshot, and owns the refresh chain of every session.
//
// Engine instances are configured once by the Builder and are safe for
// concurrent use.
type Engine struct {
	config     Config
	users      UserStore
	rbac       *rbac.Engine
	sessions   session.Store
	jwt        *jwt.Manager
	hasher     *password.Argon2
	limiter    *rate.Limiter
	challenges *stores.ChallengeStore
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	validate   *validator.Validate
	now        func() time.Time

	// stopInvalidation ends the RBAC cache invalidation subscription.
	stopInvalidation func() error

	// dummyHash is verified against when the user is unknown so a miss
	// costs the same Argon2 work as a wrong password.
	dummyHash string
}

// Close stops the RBAC invalidation listener and flushes the audit
// dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopInvalidation != nil {
		if err := e.stopInvalidation(); err != nil {
			e.logger.Debug("rbac invalidation listener closed", "error", err)
		}
		e.stopInvalidation = nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// RBAC returns the authorization engine the lifecycle manager snapshots from.
func (e *Engine) RBAC() *rbac.Engine {
	if e == nil {
		return nil
	}
	return e.rbac
}

// MetricsSnapshot returns a point-in-time copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) internalError(op string, err error) error {
	e.logger.Error("store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// Login authenticates email and password and starts a new session in the
// context tenant. Unknown email, wrong password, inactive accounts and
// accounts registered under another tenant all return
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	tenantID, err := requestTenant(ctx)
	if err != nil {
		return nil, err
	}
	ip := clientIPFromContext(ctx)
	email = foldIdentifier(email)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, audit.Entry{
					Action:       audit.ActionLoginRateLimited,
					ResourceType: audit.ResourceSession,
					Metadata:     map[string]string{"identifier": email},
				}, ErrLoginRateLimited)
				return nil, ErrLoginRateLimited
			}
			return nil, e.internalError("login.rate_check", err)
		}
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, e.internalError("login.find_user", err)
	}
	if user == nil || !user.Active || homeTenant(user) != tenantID {
		// Burn the same hashing cost as a real check.
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		reason, userID := "user_not_found", ""
		switch {
		case user == nil:
		case !user.Active:
			reason, userID = "inactive", user.ID
		default:
			reason, userID = "tenant_mismatch", user.ID
		}
		e.loginFailed(ctx, email, ip, userID, reason)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		e.logger.Warn("stored password hash is malformed", "user_id", user.ID, "error", err)
	}
	if err != nil || !ok {
		e.loginFailed(ctx, email, ip, user.ID, "password_mismatch")
		return nil, ErrInvalidCredentials
	}
	if e.config.EmailVerification.RequireForLogin && !user.Verified {
		e.loginFailed(ctx, email, ip, user.ID, "unverified")
		return nil, ErrAccountUnverified
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, email); err != nil {
			e.logger.Warn("login limiter reset failed", "error", err)
		}
	}

	now := e.now()
	if err := e.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, e.internalError("login.update_last_login", err)
	}
	user.LastLoginAt = &now
	e.upgradeHash(ctx, user, pw)

	res, err := e.startSession(ctx, user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, audit.Entry{
			Action:       audit.ActionLoginFailed,
			UserID:       user.ID,
			ResourceType: audit.ResourceSession,
			Metadata:     map[string]string{"identifier": email, "reason": "session_creation"},
		}, err)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, audit.Entry{
		Action:       audit.ActionLoginSuccess,
		ActorID:      user.ID,
		UserID:       user.ID,
		SessionID:    res.SessionID,
		ResourceType: audit.ResourceSession,
		ResourceID:   res.SessionID,
	}, nil)
	return res, nil
}

func (e *Engine) loginFailed(ctx context.Context, email, ip, userID, reason string) {
	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, email, ip); err != nil {
			e.logger.Warn("login limiter increment failed", "error", err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, audit.Entry{
		Action:       audit.ActionLoginFailed,
		UserID:       userID,
		ResourceType: audit.ResourceSession,
		Metadata:     map[string]string{"identifier": email, "reason": reason},
	}, ErrInvalidCredentials)
}

// upgradeHash rehashes pw under the current parameters. Failures are
// logged and never block the login.
func (e *Engine) upgradeHash(ctx context.Context, user *UserRecord, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password hash upgrade generation failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.users.UpdatePassword(ctx, user.ID, upgraded); err != nil {
		e.logger.Warn("password hash upgrade update failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = upgraded
}

// startSession snapshots the user's authorization state, issues a pair and
// persists the session record.
func (e *Engine) startSession(ctx context.Context, user *UserRecord) (*LoginResult, error) {
	snap, err := e.rbac.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, e.internalError("session.snapshot", err)
	}

	pair, rec, err := e.issuePair(ctx, user, snap, homeTenant(user), uuid.NewString())
	if err != nil {
		return nil, e.internalError("session.issue", err)
	}
	if err := e.sessions.Put(ctx, rec); err != nil {
		e.logger.Error("session write failed", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	e.metricInc(MetricSessionCreated)

	return &LoginResult{
		TokenPair:   pair,
		User:        user,
		Roles:       snap.Roles,
		Permissions: snap.Permissions,
	}, nil
}

// issuePair signs an access and refresh token for sessionID and returns
// the session record that binds the refresh token's hash.
func (e *Engine) issuePair(ctx context.Context, user *UserRecord, snap rbac.Snapshot, tenantID, sessionID string) (TokenPair, *session.Record, error) {
	now := e.now()
	access, err := e.jwt.CreateAccess(jwt.AccessInput{
		UserID:      user.ID,
		Email:       user.Email,
		Username:    user.Username,
		Roles:       snap.Roles,
		Permissions: snap.Permissions,
		Level:       snap.Level,
		SessionID:   sessionID,
		TenantID:    tenantID,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, refreshExp, err := e.jwt.CreateRefresh(jwt.RefreshInput{
		UserID:    user.ID,
		SessionID: sessionID,
		TenantID:  tenantID,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}

	rec := &session.Record{
		SessionID: sessionID,
		UserID:    user.ID,
		TenantID:  tenantID,
		TokenHash: internal.HashToken(refresh),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}
	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  now.Add(e.jwt.AccessTTL()),
		RefreshExpiresAt: refreshExp,
		SessionID:        sessionID,
	}
	return pair, rec, nil
}

// Refresh rotates the session bound to refreshToken and returns a new
// pair with a freshly computed snapshot. The presented token is consumed:
// presenting it again returns ErrSessionNotFound joined with
// ErrRefreshReplay.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		err = e.tokenError("refresh", err)
		e.refreshFailed(ctx, audit.Entry{Metadata: map[string]string{"reason": "parse"}}, err)
		return nil, err
	}
	tenantID := session.NormalizeTenantID(claims.TID)
	userID := claims.Subject
	oldSID := claims.SID
	entry := audit.Entry{
		ActorID:      userID,
		UserID:       userID,
		TenantID:     tenantID,
		SessionID:    oldSID,
		ResourceType: audit.ResourceSession,
		ResourceID:   oldSID,
	}

	if e.limiter != nil {
		if err := e.limiter.CheckRefresh(ctx, tenantID, oldSID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRefreshRateLimited)
				e.emitAudit(ctx, withAction(entry, audit.ActionTokenRefreshed), ErrRefreshRateLimited)
				return nil, ErrRefreshRateLimited
			}
			return nil, e.internalError("refresh.rate_check", err)
		}
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, e.internalError("refresh.find_user", err)
	}
	if user == nil || !user.Active || homeTenant(user) != tenantID {
		// Sessions outside the home tenant predate tenant binding.
		n, revokeErr := e.sessions.DeleteAllForUser(ctx, tenantID, userID)
		if revokeErr != nil {
			e.logger.Warn("session revoke for rejected user failed", "user_id", userID, "error", revokeErr)
		}
		e.metrics.Add(MetricSessionInvalidated, uint64(n))
		e.refreshFailed(ctx, entry, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	snap, err := e.rbac.Snapshot(ctx, userID)
	if err != nil {
		return nil, e.internalError("refresh.snapshot", err)
	}
	pair, next, err := e.issuePair(ctx, user, snap, tenantID, uuid.NewString())
	if err != nil {
		return nil, e.internalError("refresh.issue", err)
	}

	err = e.sessions.Rotate(ctx, tenantID, oldSID, internal.HashToken(refreshToken), next)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		_, rotated, markerErr := e.sessions.WasRotated(ctx, tenantID, oldSID)
		if markerErr != nil {
			e.logger.Warn("rotation marker lookup failed", "session_id", oldSID, "error", markerErr)
		}
		if rotated {
			return nil, e.replayDetected(ctx, entry)
		}
		e.refreshFailed(ctx, entry, ErrSessionNotFound)
		return nil, ErrSessionNotFound
	case errors.Is(err, session.ErrTokenMismatch):
		// The store has already revoked the session.
		e.metricInc(MetricSessionInvalidated)
		return nil, e.replayDetected(ctx, entry)
	default:
		e.refreshFailed(ctx, entry, err)
		return nil, e.internalError("refresh.rotate", err)
	}

	e.metricInc(MetricRefreshSuccess)
	entry.SessionID = pair.SessionID
	entry.ResourceID = pair.SessionID
	entry.Metadata = map[string]string{"previous_session_id": oldSID}
	e.emitAudit(ctx, withAction(entry, audit.ActionTokenRefreshed), nil)
	return &pair, nil
}

func (e *Engine) refreshFailed(ctx context.Context, entry audit.Entry, err error) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, withAction(entry, audit.ActionTokenRefreshed), err)
}

func (e *Engine) replayDetected(ctx context.Context, entry audit.Entry) error {
	replayErr := errors.Join(ErrSessionNotFound, ErrRefreshReplay)
	e.metricInc(MetricRefreshReplayDetected)
	e.metricInc(MetricRefreshFailure)

	if e.config.Session.RevokeAllOnReplay {
		n, err := e.sessions.DeleteAllForUser(ctx, entry.TenantID, entry.UserID)
		if err != nil {
			e.logger.Warn("revoke on replay failed", "user_id", entry.UserID, "error", err)
		}
		e.metrics.Add(MetricSessionInvalidated, uint64(n))
		entry.Metadata = map[string]string{"revoked_sessions": fmt.Sprint(n)}
	}
	e.logger.Warn("refresh token replay", "user_id", entry.UserID, "session_id", entry.SessionID)
	e.emitAudit(ctx, withAction(entry, audit.ActionRefreshReplayDetected), replayErr)
	return replayErr
}

func withAction(entry audit.Entry, action string) audit.Entry {
	entry.Action = action
	return entry
}

// ValidateAccess verifies an access token and returns its snapshot. It
// performs no store round-trip, so roles and permissions may lag behind
// the rbac engine by up to the access TTL.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwt == nil {
		return nil, ErrEngineNotReady
	}
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, e.tokenError("access", err)
	}
	res := &AuthResult{
		UserID:      claims.UID,
		TenantID:    session.NormalizeTenantID(claims.TID),
		SessionID:   claims.SID,
		Email:       claims.Email,
		Username:    claims.Username,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Level:       claims.Level,
	}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// Logout revokes the session bound to refreshToken. The token must belong
// to userID.
func (e *Engine) Logout(ctx context.Context, userID, refreshToken string) error {
	if e == nil || e.jwt == nil {
		return ErrEngineNotReady
	}
	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return e.tokenError("logout", err)
	}
	if claims.Subject != userID {
		e.emitAudit(ctx, audit.Entry{
			Action:       audit.ActionLogout,
			ActorID:      userID,
			UserID:       claims.Subject,
			SessionID:    claims.SID,
			ResourceType: audit.ResourceSession,
			ResourceID:   claims.SID,
		}, ErrForbidden)
		return ErrForbidden
	}
	tenantID := session.NormalizeTenantID(claims.TID)

	rec, err := e.sessions.Find(ctx, tenantID, claims.SID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return e.internalError("logout.find", err)
	}
	if rec != nil && rec.UserID != userID {
		return ErrForbidden
	}
	if err := e.sessions.DeleteOne(ctx, tenantID, claims.SID); err != nil {
		return e.internalError("logout.delete", err)
	}

	if rec != nil {
		e.metricInc(MetricSessionInvalidated)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, audit.Entry{
		Action:       audit.ActionLogout,
		ActorID:      userID,
		UserID:       userID,
		TenantID:     tenantID,
		SessionID:    claims.SID,
		ResourceType: audit.ResourceSession,
		ResourceID:   claims.SID,
	}, nil)
	return nil
}

// LogoutAll revokes every session of userID. Sessions live in the user's
// home tenant; the context tenant is swept as well when it differs.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	entry := audit.Entry{
		Action:       audit.ActionLogoutAll,
		UserID:       userID,
		ResourceType: audit.ResourceSession,
	}
	tenants, err := e.sessionTenants(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, entry, err)
		return err
	}

	total := 0
	for _, tenantID := range tenants {
		n, err := e.sessions.DeleteAllForUser(ctx, tenantID, userID)
		total += n
		if err != nil {
			e.metrics.Add(MetricSessionInvalidated, uint64(total))
			e.emitAudit(ctx, entry, err)
			return e.internalError("logout_all", err)
		}
	}

	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionInvalidated, uint64(total))
	entry.ActorID = userID
	entry.Metadata = map[string]string{"revoked_sessions": fmt.Sprint(total)}
	e.emitAudit(ctx, entry, nil)
	return nil
}

// sessionTenants lists the tenants that may hold sessions of userID: its
// home tenant first, then a valid context tenant if different. Unknown
// users fall back to the context tenant alone.
func (e *Engine) sessionTenants(ctx context.Context, userID string) ([]string, error) {
	ctxTenant := tenantIDFromContext(ctx)
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, e.internalError("sessions.find_user", err)
		}
		if !session.ValidTenantID(ctxTenant) {
			return nil, ErrInvalidTenant
		}
		return []string{ctxTenant}, nil
	}
	tenants := []string{homeTenant(user)}
	if ctxTenant != tenants[0] && session.ValidTenantID(ctxTenant) {
		tenants = append(tenants, ctxTenant)
	}
	return tenants, nil
}

// tokenError reduces a token parse failure to its sentinel. The parser
// detail only reaches the debug log.
func (e *Engine) tokenError(op string, err error) error {
	e.logger.Debug("token rejected", "op", op, "error", err)
	if errors.Is(err, ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

// ListSessions returns the live sessions of userID across the tenants
// LogoutAll would revoke. currentSessionID, when non-empty, marks the
// caller's own session.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	tenants, err := e.sessionTenants(ctx, userID)
	if err != nil {
		return nil, err
	}
	var recs []*session.Record
	for _, tenantID := range tenants {
		part, err := e.sessions.ListForUser(ctx, tenantID, userID)
		if err != nil {
			return nil, e.internalError("sessions.list", err)
		}
		recs = append(recs, part...)
	}
	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionInfo{
			SessionID: rec.SessionID,
			IP:        rec.IP,
			UserAgent: rec.UserAgent,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
			Current:   rec.SessionID == currentSessionID,
		})
	}
	return out, nil
}

// SweepExpiredSessions removes expired session index entries across all
// tenants. It is idempotent and safe to run from several workers.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.SweepExpired(ctx)
	if err != nil {
		return n, e.internalError("sessions.sweep", err)
	}
	e.metrics.Add(MetricSessionsSwept, uint64(n))
	if n > 0 {
		e.logger.Info("expired sessions swept", "count", n)
		e.emitAudit(ctx, audit.Entry{
			Action:       audit.ActionSessionsSwept,
			ResourceType: audit.ResourceSession,
			Metadata:     map[string]string{"removed": fmt.Sprint(n)},
		}, nil)
	}
	return n, nil
}

// CurrentUser returns the profile of userID with its currently active
// roles and permissions, computed fresh from the rbac engine.
func (e *Engine) CurrentUser(ctx context.Context, userID string) (*Profile, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.internalError("current_user.find", err)
	}
	uc, err := e.rbac.Context(ctx, userID)
	if err != nil {
		return nil, e.internalError("current_user.rbac", err)
	}
	return &Profile{
		User:        user,
		Roles:       uc.Roles,
		Permissions: uc.PermissionNames(),
		Level:       uc.Level,
	}, nil
}

// foldIdentifier normalizes an email or username for lookup and storage.
// A Caser is stateful, so one is built per call.
func foldIdentifier(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
