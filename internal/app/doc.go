// Package app holds the process-level wiring shared by the goIdentity
// binaries: environment configuration, logging and the construction of
// the Postgres and Redis backed Engine.
package app
