package httpapi

import (
	"errors"
	"net/http"
	"time"

	identityservice "session-control-plane/internal/identity/service"
)

type authEmailRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// handleAuthEmail starts an email challenge. The signed challenge travels in
// an HttpOnly cookie; the response body never carries the code.
func (a *API) handleAuthEmail(w http.ResponseWriter, r *http.Request) {
	var req authEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	signed, err := a.auth.StartChallenge(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, identityservice.ErrInvalidEmail):
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "invalid email address")
		case errors.Is(err, identityservice.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many challenge requests for this address")
		case errors.Is(err, identityservice.ErrChallengeUnavailable):
			writeError(w, http.StatusServiceUnavailable, CodeChallengeUnavail, "challenge delivery is unavailable")
		default:
			writeError(w, http.StatusInternalServerError, CodeInternal, "could not start challenge")
		}
		return
	}
	setCookie(w, CookieChallenge, signed, time.Now().Add(15*time.Minute))
	writeData(w, http.StatusOK, map[string]string{"status": "challenge_sent"})
}

type authVerifyRequest struct {
	Code       string `json:"code"`
	Challenge  string `json:"challenge"` // fallback for clients without cookies
	DeviceID   string `json:"device_id"`
	ClientName string `json:"client_name"`
}

type authResultResponse struct {
	Status           string    `json:"status"`
	Token            string    `json:"token"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitempty"`
	SessionID        string    `json:"sessionId"`
	UserID           string    `json:"userId"`
	OrgID            string    `json:"orgId"`
}

func authResultBody(res *identityservice.AuthResult) authResultResponse {
	return authResultResponse{
		Status:           "authenticated",
		Token:            res.AccessToken,
		RefreshToken:     res.RefreshToken,
		ExpiresAt:        res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		SessionID:        res.SessionID,
		UserID:           res.UserID,
		OrgID:            res.OrgID,
	}
}

func (a *API) setSessionCookies(w http.ResponseWriter, res *identityservice.AuthResult) {
	setCookie(w, CookieAccess, res.AccessToken, res.AccessExpiresAt)
	if res.RefreshToken != "" {
		setCookie(w, CookieRefresh, res.RefreshToken, res.RefreshExpiresAt)
	}
}

// handleAuthVerify exchanges the challenge plus emailed code for a session.
func (a *API) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req authVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	challenge := cookieValue(r, CookieChallenge)
	if challenge == "" {
		challenge = req.Challenge
	}
	if challenge == "" || req.Code == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "missing challenge or code")
		return
	}
	res, err := a.auth.VerifyChallenge(r.Context(), identityservice.VerifyParams{
		Challenge:  challenge,
		Code:       req.Code,
		DeviceID:   req.DeviceID,
		ClientName: req.ClientName,
	})
	if err != nil {
		if errors.Is(err, identityservice.ErrInvalidChallenge) {
			writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "invalid or expired challenge")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not verify challenge")
		return
	}
	clearCookie(w, CookieChallenge)
	a.setSessionCookies(w, res)
	a.auditLog(r, res.OrgID, res.UserID, "auth.challenge_verified", "session:"+res.SessionID)
	writeData(w, http.StatusOK, authResultBody(res))
}

type sessionResponse struct {
	SessionID     string     `json:"sessionId"`
	UserID        string     `json:"userId"`
	OrgID         string     `json:"orgId"`
	DeviceID      string     `json:"deviceId,omitempty"`
	TokenName     string     `json:"tokenName"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastRotatedAt *time.Time `json:"lastRotatedAt,omitempty"`
}

func (a *API) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	sess, err := a.auth.CurrentSession(r.Context(), id.SessionID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "session is no longer valid")
		return
	}
	writeData(w, http.StatusOK, sessionResponse{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		OrgID:         sess.OrgID,
		DeviceID:      sess.DeviceID,
		TokenName:     sess.TokenName,
		Status:        string(sess.Status),
		CreatedAt:     sess.CreatedAt,
		LastRotatedAt: sess.LastRotatedAt,
	})
}

type authRefreshRequest struct {
	RefreshToken       string `json:"refresh_token"`
	RotateRefreshToken *bool  `json:"rotate_refresh_token"`
	DeviceID           string `json:"device_id"`
}

// handleAuthRefresh rotates the refresh chain and mints a new access token.
// Rotation is the default; rotate_refresh_token=false leaves the chain alone.
// Reuse of an already consumed token is a 401 and kills the whole chain.
func (a *API) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req authRefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	raw := req.RefreshToken
	if raw == "" {
		raw = cookieValue(r, CookieRefresh)
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing refresh token")
		return
	}
	rotate := req.RotateRefreshToken == nil || *req.RotateRefreshToken

	var res *identityservice.AuthResult
	var err error
	if rotate {
		res, err = a.auth.Rotate(r.Context(), raw, req.DeviceID)
	} else {
		res, err = a.auth.RefreshAccess(r.Context(), raw, req.DeviceID)
	}
	if err != nil {
		switch {
		case errors.Is(err, identityservice.ErrDeviceMismatch):
			writeError(w, http.StatusForbidden, CodeForbidden, "refresh token is bound to another device")
		case errors.Is(err, identityservice.ErrRefreshTokenReuse),
			errors.Is(err, identityservice.ErrSessionRevoked),
			errors.Is(err, identityservice.ErrInvalidRefreshToken):
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "refresh token is no longer valid")
		default:
			writeError(w, http.StatusInternalServerError, CodeInternal, "could not refresh session")
		}
		return
	}
	a.setSessionCookies(w, res)
	writeData(w, http.StatusOK, authResultBody(res))
}

func (a *API) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if err := a.auth.Logout(r.Context(), id.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not log out")
		return
	}
	clearCookie(w, CookieAccess)
	clearCookie(w, CookieRefresh)
	a.auditLog(r, id.OrgID, id.UserID, "auth.logout", "session:"+id.SessionID)
	writeData(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (a *API) auditLog(r *http.Request, orgID, userID, action, resource string) {
	if a.audit == nil {
		return
	}
	a.audit.LogEvent(r.Context(), orgID, userID, action, resource, "")
}
