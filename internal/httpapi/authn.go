package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"session-control-plane/internal/events"
	"session-control-plane/internal/machineauth"
	"session-control-plane/internal/obs"
	"session-control-plane/internal/security"
)

// Identity is the authenticated principal a handler sees after the auth
// middleware has run. Either a live session or a personal access token.
type Identity struct {
	Subject   string // user id, or "pat:<id>" for PAT callers
	UserID    string
	OrgID     string
	SessionID string // empty for PAT callers
	DeviceID  string
	PATID     string   // empty for session callers
	PATScopes []string // nil for session callers
}

// IsPAT reports whether the caller authenticated with a personal access token.
func (id *Identity) IsPAT() bool { return id.PATID != "" }

type ctxKey int

const identityKey ctxKey = 0

func withIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the access cookie for browser clients.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return cookieValue(r, CookieAccess)
}

// requireSession admits only access tokens backed by a live session. The JWT
// alone is not enough; a revoked session rejects the token before expiry.
func (a *API) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing credentials")
			return
		}
		ident, err := a.tokens.ValidateAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid access token")
			return
		}
		sess, err := a.auth.CurrentSession(r.Context(), ident.SessionID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "session is no longer valid")
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), &Identity{
			Subject:   ident.UserID,
			UserID:    ident.UserID,
			OrgID:     sess.OrgID,
			SessionID: sess.ID,
			DeviceID:  ident.DeviceID,
		})))
	}
}

// requireAuth admits sessions and personal access tokens. PAT callers carry
// their token scopes so downstream minting can narrow to them.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing credentials")
			return
		}
		if strings.HasPrefix(token, security.PATPrefix) {
			if a.pats == nil {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "personal access tokens are not enabled")
				return
			}
			principal, err := a.pats.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid access token")
				return
			}
			next(w, r.WithContext(withIdentity(r.Context(), &Identity{
				Subject:   principal.Subject,
				UserID:    principal.UserID,
				OrgID:     principal.OrgID,
				PATID:     principal.PATID,
				PATScopes: principal.Scopes,
			})))
			return
		}
		a.requireSession(next)(w, r)
	}
}

// Machine signature headers.
const (
	headerSignatureKeyID     = "X-Signature-Key-Id"
	headerSignatureTimestamp = "X-Signature-Timestamp"
	headerSignatureNonce     = "X-Signature-Nonce"
	headerSignatureBodyHash  = "X-Signature-Body-Hash"
	headerSignature          = "X-Signature"
)

// requireMachineSignature verifies the HMAC request signature and burns the
// nonce. The body is re-buffered so the handler can still read it.
func (a *API) requireMachineSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.verifier == nil || !a.verifier.Enabled() {
			writeError(w, http.StatusServiceUnavailable, CodeNotReady, "machine authentication is not configured")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		sig := machineauth.Signature{
			KeyID:     r.Header.Get(headerSignatureKeyID),
			Timestamp: r.Header.Get(headerSignatureTimestamp),
			Nonce:     r.Header.Get(headerSignatureNonce),
			BodyHash:  r.Header.Get(headerSignatureBodyHash),
			Value:     r.Header.Get(headerSignature),
		}
		if err := a.verifier.Verify(sig, body); err != nil {
			a.reportSignatureFailure(sig, err)
			if err == machineauth.ErrNonceReplay {
				writeError(w, http.StatusUnauthorized, CodeNonceReplay, "nonce already used")
				return
			}
			writeError(w, http.StatusUnauthorized, CodeInvalidSignature, "signature verification failed")
			return
		}
		next(w, r)
	}
}

func (a *API) reportSignatureFailure(sig machineauth.Signature, err error) {
	kind := "signature"
	eventType := events.TypeSignatureFailure
	if err == machineauth.ErrNonceReplay {
		kind = "nonce_replay"
		eventType = events.TypeNonceReplay
	}
	obs.ObserveSignatureFailure(kind)
	events.EmitAsync(a.emitter, &events.SecurityEvent{
		Type:   eventType,
		Reason: err.Error(),
		Detail: map[string]string{"key_id": sig.KeyID},
	})
}

// Compatibility handshake headers for the versioned sync token endpoint.
const (
	headerClientBuild     = "X-Client-Build"
	headerProtocolVersion = "X-Protocol-Version"
	headerSchemaVersion   = "X-Schema-Version"
)

// requireHandshake enforces the client compatibility handshake before any
// authentication runs. An incompatible client gets a deterministic 422 rather
// than a confusing auth failure.
func (a *API) requireHandshake(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerClientBuild) == "" {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "missing X-Client-Build header")
			return
		}
		if got := r.Header.Get(headerProtocolVersion); got != a.protocolVersion {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "unsupported protocol version")
			return
		}
		if r.Header.Get(headerSchemaVersion) == "" {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "missing X-Schema-Version header")
			return
		}
		next(w, r)
	}
}
