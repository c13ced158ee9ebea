package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"session-control-plane/internal/audit"
	"session-control-plane/internal/events"
	identityservice "session-control-plane/internal/identity/service"
	"session-control-plane/internal/machineauth"
	membershiprepo "session-control-plane/internal/membership/repository"
	"session-control-plane/internal/obs"
	patservice "session-control-plane/internal/pat/service"
	"session-control-plane/internal/policy/engine"
	"session-control-plane/internal/ratelimit"
	"session-control-plane/internal/security"
	sessionservice "session-control-plane/internal/session/service"
	"session-control-plane/internal/session/store"
	syncservice "session-control-plane/internal/synctoken/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// PolicyEngine is what the API needs from the policy layer: the authorize
// query plus a readiness probe.
type PolicyEngine interface {
	Authorize(ctx context.Context, in engine.Input) (engine.Decision, error)
	HealthCheck(ctx context.Context) error
}

// Deps carries everything the API needs. DB, Verifier, PATs, Limiter, Audit
// and Emitter may be nil; the corresponding surface degrades gracefully.
type Deps struct {
	Auth            *identityservice.AuthService
	Revocations     *sessionservice.RevocationService
	Minter          *syncservice.Minter
	PATs            *patservice.PATService
	Memberships     membershiprepo.Repository
	Store           store.Store
	Tokens          *security.TokenProvider
	Verifier        *machineauth.Verifier
	Policy          PolicyEngine
	DB              *sql.DB
	Audit           audit.AuditLogger
	Emitter         events.Emitter
	Limiter         *ratelimit.Keyed
	ProtocolVersion string
	Version         string
}

// API is the HTTP surface of the control plane.
type API struct {
	mux             *http.ServeMux
	auth            *identityservice.AuthService
	revocations     *sessionservice.RevocationService
	minter          *syncservice.Minter
	pats            *patservice.PATService
	memberships     membershiprepo.Repository
	store           store.Store
	tokens          *security.TokenProvider
	verifier        *machineauth.Verifier
	policy          PolicyEngine
	db              *sql.DB
	audit           audit.AuditLogger
	emitter         events.Emitter
	limiter         *ratelimit.Keyed
	protocolVersion string
	version         string
}

// New registers all routes and returns the API.
func New(d Deps) *API {
	a := &API{
		mux:             http.NewServeMux(),
		auth:            d.Auth,
		revocations:     d.Revocations,
		minter:          d.Minter,
		pats:            d.PATs,
		memberships:     d.Memberships,
		store:           d.Store,
		tokens:          d.Tokens,
		verifier:        d.Verifier,
		policy:          d.Policy,
		db:              d.DB,
		audit:           d.Audit,
		emitter:         d.Emitter,
		limiter:         d.Limiter,
		protocolVersion: d.ProtocolVersion,
		version:         d.Version,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.mux

	m.HandleFunc("GET /healthz", a.handleHealthz)
	m.HandleFunc("GET /readyz", a.handleReadyz)
	m.Handle("GET /metrics", obs.Handler())

	m.HandleFunc("POST /api/auth/email", a.handleAuthEmail)
	m.HandleFunc("POST /api/auth/verify", a.handleAuthVerify)
	m.HandleFunc("GET /api/auth/session", a.requireSession(a.handleAuthSession))
	m.HandleFunc("POST /api/auth/refresh", a.handleAuthRefresh)
	m.HandleFunc("POST /api/auth/logout", a.requireSession(a.handleAuthLogout))
	m.HandleFunc("GET /api/auth/sessions", a.requireSession(a.handleSessionsList))
	m.HandleFunc("POST /api/auth/sessions/revoke", a.requireSession(a.handleSessionsRevoke))

	m.HandleFunc("POST /api/sync/token", a.requireAuth(a.handleSyncToken))
	m.HandleFunc("POST /api/v1/sync/token", a.requireHandshake(a.requireAuth(a.handleSyncToken)))
	m.HandleFunc("POST /api/khala/token", a.requireAuth(a.handleKhalaToken))

	m.HandleFunc("POST /api/tokens", a.requireSession(a.handleTokensCreate))
	m.HandleFunc("GET /api/tokens", a.requireSession(a.handleTokensList))
	m.HandleFunc("DELETE /api/tokens/current", a.requireAuth(a.handleTokensRevokeCurrent))
	m.HandleFunc("DELETE /api/tokens/{id}", a.requireSession(a.handleTokensRevoke))

	m.HandleFunc("GET /api/orgs/memberships", a.requireSession(a.handleMembershipsList))
	m.HandleFunc("GET /api/orgs/active", a.requireSession(a.handleActiveOrgGet))
	m.HandleFunc("POST /api/orgs/active", a.requireSession(a.handleActiveOrgSet))

	m.HandleFunc("POST /api/policy/authorize", a.requireMachineSignature(a.handlePolicyAuthorize))
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = WithClientIP(h)
	h = RateLimit(a.limiter)(h)
	h = MaxBodyBytes(maxBodyBytes)(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": a.version,
	})
}

// handleReadyz checks the backing store and the policy engine. A service that
// cannot evaluate policy must not mint scoped tokens.
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, CodeNotReady, "database unreachable")
			return
		}
	}
	if a.policy != nil {
		if err := a.policy.HealthCheck(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, CodeNotReady, "policy engine unavailable")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}
