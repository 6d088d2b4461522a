// Package internal holds helpers private to goIdentity: challenge token
// generation and hashing, plus the infrastructure packages below.
//
// # Sub-packages
//
//   - rate: fixed-window Redis counters for login, refresh, reset and
//     verification throttling
//   - stores: single-use challenge records for password reset and email
//     verification
//   - httpapi: the chi HTTP API served by identityd
//   - app: environment configuration, logging and runtime wiring
//   - seed: YAML role catalog loading
package internal
