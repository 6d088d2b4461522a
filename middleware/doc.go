// Package middleware adapts goIdentity.Engine to net/http.
//
// # Guards
//
// A [Guard] authenticates the bearer token on each request and stores the
// verified goIdentity.AuthResult in the request context. Its Require*
// methods then authorize the request in one of two modes:
//
//   - [Snapshot] checks the roles, permissions and level embedded in the
//     access token. No store call is made, so decisions may lag grants by
//     up to the access TTL.
//   - [Fresh] asks the engine's rbac.Engine, which reads the decision cache
//     and the assignment store.
//
// Missing or invalid tokens yield 401, denied requests 403 and rbac
// failures in fresh mode 500.
package middleware
