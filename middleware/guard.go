package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Mode selects where a Guard reads authorization data from.
type Mode int

const (
	// ModeSnapshot authorizes against the claims in the access token.
	ModeSnapshot Mode = iota
	// ModeFresh authorizes against the rbac engine.
	ModeFresh
)

func (m Mode) String() string {
	if m == ModeFresh {
		return "fresh"
	}
	return "snapshot"
}

// Guard builds authentication and authorization middleware over an Engine.
type Guard struct {
	engine *goIdentity.Engine
	mode   Mode
	logger *slog.Logger
}

// NewGuard returns a Guard for engine in mode. A nil logger discards
// authorization errors.
func NewGuard(engine *goIdentity.Engine, mode Mode, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{engine: engine, mode: mode, logger: logger.With("component", "goIdentity.middleware")}
}

// Mode returns the guard's authorization mode.
func (g *Guard) Mode() Mode {
	return g.mode
}

// Authenticate verifies the bearer token and stores the AuthResult and its
// tenant in the request context.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g == nil || g.engine == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		res, err := g.engine.ValidateAccess(r.Context(), token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := goIdentity.WithAuthResult(r.Context(), res)
		ctx = goIdentity.WithTenantID(ctx, res.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decision reports whether res may proceed. err is a store failure.
type decision func(r *http.Request, res *goIdentity.AuthResult) (bool, error)

// require authenticates when no AuthResult is present yet, then applies
// allow.
func (g *Guard) require(name string, allow decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authorize := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := goIdentity.AuthResultFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			allowed, err := allow(r, res)
			if err != nil {
				g.logger.Error("authorization check failed",
					"check", name, "mode", g.mode.String(), "user_id", res.UserID, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := goIdentity.AuthResultFromContext(r.Context()); ok {
				authorize.ServeHTTP(w, r)
				return
			}
			g.Authenticate(authorize).ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
