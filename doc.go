// Package goIdentity is the token and session lifecycle manager of a
// multi-tenant identity service, built on the RBAC engine in package rbac.
//
// An [Engine] authenticates users with Argon2id password hashes, issues a
// short-lived access JWT carrying a snapshot of the user's roles and
// permissions, and a refresh JWT whose hash is bound to a server-side
// session. Refresh rotates the session atomically: each refresh token is
// usable once, and presenting a rotated token again is reported as a
// replay and, by default, revokes every session of the user.
//
// # Construction
//
// Engines are assembled with [New] and [Builder.Build]. Secrets are
// injected through [Config]; the package never reads the environment.
//
// # Staleness
//
// [Engine.ValidateAccess] is CPU-only. The roles and permissions it returns
// are those of the moment the token was issued, so a revoked privilege can
// remain visible for up to JWT.AccessTTL. Callers that need the live state
// ask the rbac engine ([Engine.RBAC]) or use fresh-mode middleware.
//
// # Tenancy
//
// Sessions, rate limit windows and reset/verification tokens are
// partitioned by the tenant attached with [WithTenantID]; the default
// tenant is "0".
package goIdentity
