package goIdentity

import (
	"context"

	"github.com/MrEthical07/goIdentity/session"
)

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP rate limiting, session records and audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Sessions and challenge
// tokens are partitioned by tenant; the default tenant is "0". A user can
// only sign in under the tenant it registered in, and operations given a
// tenant failing ValidTenantID return ErrInvalidTenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// ValidTenantID reports whether tenantID may be used with WithTenantID:
// 1 to 64 characters from [A-Za-z0-9._-], empty meaning the default.
func ValidTenantID(tenantID string) bool {
	return session.ValidTenantID(tenantID)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// requestTenant returns the context tenant, or ErrInvalidTenant.
func requestTenant(ctx context.Context) (string, error) {
	tenantID := tenantIDFromContext(ctx)
	if !session.ValidTenantID(tenantID) {
		return "", ErrInvalidTenant
	}
	return tenantID, nil
}

// homeTenant is the tenant a user registered in; its sessions live there.
func homeTenant(user *UserRecord) string {
	return session.NormalizeTenantID(user.TenantID)
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "0"
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return "0"
	}

	return tenantID
}

type authResultContextKey struct{}

// WithAuthResult stores a verified AuthResult in ctx. Middleware sets it
// after authenticating a bearer token.
func WithAuthResult(ctx context.Context, res *AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// AuthResultFromContext returns the AuthResult stored by WithAuthResult.
func AuthResultFromContext(ctx context.Context) (*AuthResult, bool) {
	if ctx == nil {
		return nil, false
	}
	res, ok := ctx.Value(authResultContextKey{}).(*AuthResult)
	return res, ok && res != nil
}
