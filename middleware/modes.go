package middleware

import (
	"log/slog"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Snapshot returns a Guard that authorizes from access token claims only.
func Snapshot(engine *goIdentity.Engine, logger *slog.Logger) *Guard {
	return NewGuard(engine, ModeSnapshot, logger)
}

// Fresh returns a Guard that authorizes through engine.RBAC() on every
// request.
func Fresh(engine *goIdentity.Engine, logger *slog.Logger) *Guard {
	return NewGuard(engine, ModeFresh, logger)
}
