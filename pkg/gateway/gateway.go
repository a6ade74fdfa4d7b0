// Package gateway implements the per-request authorization decision
// engine and the token/session HTTP surface: GET /auth, the /auth/tokens
// CRUD family, and /auth/api/v1/{login,logout,user-info}. It wires
// together the token service, capability pipeline, session cookie
// manager, and admin store, translating HTTP requests into calls against
// those components and their errors into the documented status codes.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sclera-labs/authgate/pkg/authcore/admin"
	"github.com/sclera-labs/authgate/pkg/authcore/capability"
	"github.com/sclera-labs/authgate/pkg/authcore/session"
	"github.com/sclera-labs/authgate/pkg/authcore/tokens"
)

// Config parameterizes Handler with the request-facing settings that are
// not owned by any one of its dependencies.
type Config struct {
	Realm            string // WWW-Authenticate realm for Bearer challenges
	BasicAuthRealm   string // WWW-Authenticate realm for Basic challenges
	HandlePrefix     string
	Issuer           string // our own iss claim, to detect self-issued tokens
	DefaultAudience  string
	InternalAudience string
}

// Handler bundles every component the decision engine and token/session
// endpoints need.
type Handler struct {
	cfg          Config
	tokenService *tokens.Service
	pipeline     *capability.Pipeline
	sessions     *session.Manager
	admins       admin.Store
}

// NewHandler builds a Handler.
func NewHandler(cfg Config, tokenService *tokens.Service, pipeline *capability.Pipeline, sessions *session.Manager, admins admin.Store) *Handler {
	return &Handler{cfg: cfg, tokenService: tokenService, pipeline: pipeline, sessions: sessions, admins: admins}
}

// Mount registers every route this package serves onto r. Callers that
// need request-scoped middleware (request IDs, recovery, timeouts) must
// apply it to r before calling Mount: chi panics if middleware is added
// after routes exist on a mux.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/auth", h.handleAuth)

	r.Route("/auth/tokens", func(r chi.Router) {
		r.Post("/", h.handleCreateUserToken)
		r.Get("/", h.handleListTokens)
		r.Get("/{key}", h.handleGetTokenMetadata)
		r.Delete("/{key}", h.handleRevokeToken)
	})

	r.Route("/auth/api/v1", func(r chi.Router) {
		r.Get("/login", h.handleLogin)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Get("/user-info", h.handleUserInfo)
	})
}

// Router mounts every route this package serves onto a fresh chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}
