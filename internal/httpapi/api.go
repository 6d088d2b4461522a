package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/middleware"
)

// Permissions checked by the API itself rather than the rbac engine.
const (
	PermUsersRead = "users.read"
	PermAuditRead = "audit.read"
)

// TenantHeader selects the tenant for unauthenticated requests.
const TenantHeader = "X-Tenant-ID"

// Options configures the API.
type Options struct {
	Engine *goIdentity.Engine
	// Audit serves GET /audit. Nil disables the route.
	Audit audit.Reader
	// Deliverer sends reset and verification tokens.
	Deliverer Deliverer
	Logger    *slog.Logger
	// AuthRateLimit caps requests per IP per minute on /auth routes.
	// Zero disables the HTTP limiter.
	AuthRateLimit int
	// RequestTimeout bounds each request. Zero means 30s.
	RequestTimeout time.Duration
	// Production enables HTTPS redirects and HSTS.
	Production bool
}

// API serves the identity endpoints.
type API struct {
	engine    *goIdentity.Engine
	audit     audit.Reader
	deliverer Deliverer
	snapshot  *middleware.Guard
	fresh     *middleware.Guard
	logger    *slog.Logger
	opts      Options
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &API{
		engine:    opts.Engine,
		audit:     opts.Audit,
		deliverer: opts.Deliverer,
		snapshot:  middleware.Snapshot(opts.Engine, logger),
		fresh:     middleware.Fresh(opts.Engine, logger),
		logger:    logger.With("component", "goIdentity.httpapi"),
		opts:      opts,
	}
}

// Handler returns the routed API with its middleware stack.
func (a *API) Handler() http.Handler {
	headers := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        a.opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:         stsSeconds(a.opts.Production),
		IsDevelopment:      !a.opts.Production,
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer, chimw.Timeout(a.opts.RequestTimeout))
	r.Use(headers.Handler)
	r.Use(a.requestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		if a.opts.AuthRateLimit > 0 {
			r.Use(httprate.Limit(a.opts.AuthRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post("/register", a.register)
		r.Post("/login", a.login)
		r.Post("/refresh", a.refresh)
		r.Post("/password/forgot", a.forgotPassword)
		r.Post("/password/reset", a.resetPassword)
		r.Post("/email/verify", a.verifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(a.snapshot.Authenticate)
			r.Get("/me", a.me)
			r.Get("/sessions", a.sessions)
			r.Post("/logout", a.logout)
			r.Post("/logout-all", a.logoutAll)
			r.Post("/password/change", a.changePassword)
			r.Post("/email/resend", a.resendVerification)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.snapshot.Authenticate)

		r.Get("/roles", a.listRoles)
		r.Post("/roles", a.createRole)
		r.Put("/roles/{roleID}", a.updateRole)
		r.Delete("/roles/{roleID}", a.deleteRole)
		r.Get("/roles/{roleID}/permissions", a.rolePermissions)
		r.Put("/roles/{roleID}/permissions/{permissionID}", a.addRolePermission)
		r.Delete("/roles/{roleID}/permissions/{permissionID}", a.removeRolePermission)

		r.Get("/permissions", a.listPermissions)
		r.Post("/permissions", a.createPermission)
		r.Put("/permissions/{permissionID}", a.updatePermission)
		r.Delete("/permissions/{permissionID}", a.deletePermission)

		r.Get("/users/{userID}/access", a.userAccess)
		r.Post("/users/{userID}/roles", a.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", a.removeRole)
		r.Post("/users/{userID}/permissions", a.grantPermission)
		r.Delete("/users/{userID}/permissions/{permissionID}", a.revokePermission)

		if a.audit != nil {
			r.With(a.fresh.RequirePermissions(PermAuditRead)).Get("/audit", a.queryAudit)
		}
	})

	return r
}

// requestContext attaches the client IP, user agent and tenant header to
// the request context for the engine. A malformed tenant header is a 400.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx = goIdentity.WithClientIP(ctx, ip)
		ctx = goIdentity.WithUserAgent(ctx, r.UserAgent())
		if tenant := r.Header.Get(TenantHeader); tenant != "" {
			if !goIdentity.ValidTenantID(tenant) {
				a.writeError(w, r, goIdentity.ErrInvalidTenant)
				return
			}
			ctx = goIdentity.WithTenantID(ctx, tenant)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func stsSeconds(production bool) int64 {
	if production {
		return 31536000
	}
	return 0
}

// actor returns the authenticated caller. Routes calling it sit behind
// Authenticate.
func actor(r *http.Request) *goIdentity.AuthResult {
	res, _ := goIdentity.AuthResultFromContext(r.Context())
	return res
}
