package httpapi

import (
	"errors"
	"net/http"
	"time"

	"session-control-plane/internal/events"
	patservice "session-control-plane/internal/pat/service"
	syncservice "session-control-plane/internal/synctoken/service"
)

type scopedTokenRequest struct {
	Scopes   []string `json:"scopes"`
	Topics   []string `json:"topics"`
	DeviceID string   `json:"device_id"`
}

type scopedTokenResponse struct {
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ClaimsVersion int       `json:"claimsVersion"`
	Scopes        []string  `json:"scopes"`
	Topics        []string  `json:"topics,omitempty"`
}

func (a *API) handleSyncToken(w http.ResponseWriter, r *http.Request) {
	a.handleScopedToken(w, r, syncservice.FamilySync, CodeSyncTokenUnavail)
}

func (a *API) handleKhalaToken(w http.ResponseWriter, r *http.Request) {
	a.handleScopedToken(w, r, syncservice.FamilyKhala, CodeKhalaTokenUnavail)
}

// handleScopedToken mints a policy-scoped token for the caller. A device-bound
// session may only mint for its own device.
func (a *API) handleScopedToken(w http.ResponseWriter, r *http.Request, family syncservice.Family, unavailCode string) {
	var req scopedTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())

	deviceID := req.DeviceID
	if id.DeviceID != "" {
		if deviceID != "" && deviceID != id.DeviceID {
			writeError(w, http.StatusForbidden, CodeForbidden, "session is bound to another device")
			return
		}
		deviceID = id.DeviceID
	}

	res, err := a.minter.Mint(r.Context(), syncservice.MintRequest{
		Family:        family,
		Subject:       id.Subject,
		UserID:        id.UserID,
		SessionID:     id.SessionID,
		OrgID:         id.OrgID,
		DeviceID:      deviceID,
		Scopes:        req.Scopes,
		Topics:        req.Topics,
		SubjectScopes: id.PATScopes,
	})
	if err != nil {
		switch {
		case errors.Is(err, syncservice.ErrInvalidScope):
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidScope, "unknown or empty scope")
		case errors.Is(err, syncservice.ErrInvalidTopic):
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "malformed topic")
		case errors.Is(err, syncservice.ErrForbidden), errors.Is(err, syncservice.ErrNotOrgMember):
			writeError(w, http.StatusForbidden, CodeForbidden, "policy denies the requested grant")
		case errors.Is(err, syncservice.ErrUnavailable), errors.Is(err, syncservice.ErrUnknownFamily):
			writeError(w, http.StatusServiceUnavailable, unavailCode, "token minting is unavailable")
		default:
			writeError(w, http.StatusInternalServerError, CodeInternal, "could not mint token")
		}
		return
	}
	writeData(w, http.StatusOK, scopedTokenResponse{
		Token:         res.Token,
		ExpiresAt:     res.ExpiresAt,
		ClaimsVersion: res.ClaimsVersion,
		Scopes:        res.Scopes,
		Topics:        res.Topics,
	})
}

type tokenCreateRequest struct {
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type tokenResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Token      string     `json:"token,omitempty"` // only on creation
}

func (a *API) handleTokensCreate(w http.ResponseWriter, r *http.Request) {
	if a.pats == nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "personal access tokens are not enabled")
		return
	}
	var req tokenCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || len(req.Scopes) == 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "name and scopes are required")
		return
	}
	id := identityFrom(r.Context())
	wire, tok, err := a.pats.Issue(r.Context(), id.UserID, id.OrgID, req.Name, req.Scopes, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, patservice.ErrNameTaken) {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "a live token with this name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not issue token")
		return
	}
	a.auditLog(r, id.OrgID, id.UserID, "pat.issued", "pat:"+tok.ID)
	writeData(w, http.StatusCreated, tokenResponse{
		ID:        tok.ID,
		Name:      tok.Name,
		Scopes:    tok.Scopes,
		CreatedAt: tok.CreatedAt,
		ExpiresAt: tok.ExpiresAt,
		Token:     wire,
	})
}

func (a *API) handleTokensList(w http.ResponseWriter, r *http.Request) {
	if a.pats == nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "personal access tokens are not enabled")
		return
	}
	id := identityFrom(r.Context())
	tokens, err := a.pats.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not list tokens")
		return
	}
	out := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenResponse{
			ID:         t.ID,
			Name:       t.Name,
			Scopes:     t.Scopes,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
			RevokedAt:  t.RevokedAt,
			LastUsedAt: t.LastUsedAt,
		})
	}
	writeData(w, http.StatusOK, map[string]interface{}{"tokens": out})
}

// handleTokensRevokeCurrent revokes the token used to authenticate the call.
// Only meaningful for PAT callers.
func (a *API) handleTokensRevokeCurrent(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.IsPAT() {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "caller did not authenticate with a personal access token")
		return
	}
	if err := a.pats.Revoke(r.Context(), id.UserID, id.PATID); err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid token")
		return
	}
	a.reportPATRevoked(r, id, id.PATID)
	writeData(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleTokensRevoke(w http.ResponseWriter, r *http.Request) {
	if a.pats == nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "personal access tokens are not enabled")
		return
	}
	id := identityFrom(r.Context())
	tokenID := r.PathValue("id")
	if err := a.pats.Revoke(r.Context(), id.UserID, tokenID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "unknown token")
		return
	}
	a.reportPATRevoked(r, id, tokenID)
	writeData(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// reportPATRevoked records a token revocation on both the audit trail and the
// security-event stream.
func (a *API) reportPATRevoked(r *http.Request, id *Identity, tokenID string) {
	a.auditLog(r, id.OrgID, id.UserID, "pat.revoked", "pat:"+tokenID)
	events.EmitAsync(a.emitter, &events.SecurityEvent{
		Type:   events.TypePATRevoked,
		UserID: id.UserID,
		OrgID:  id.OrgID,
		Detail: map[string]string{"pat_id": tokenID},
	})
}
