package httpapi

import (
	"net/http"

	sessiondomain "session-control-plane/internal/session/domain"
	sessionservice "session-control-plane/internal/session/service"
)

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	sessions, err := a.revocations.ListSessions(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not list sessions")
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
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
	writeData(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

type sessionsRevokeRequest struct {
	DeviceID          string   `json:"device_id"`
	DeviceIDs         []string `json:"device_ids"`
	SessionIDs        []string `json:"session_ids"`
	RevokeAllSessions bool     `json:"revoke_all_sessions"`
	IncludeCurrent    bool     `json:"include_current"`
	Reason            string   `json:"reason"`
}

type sessionsRevokeResponse struct {
	RevokedSessionIDs []string `json:"revokedSessionIds"`
	RevokedDeviceIDs  []string `json:"revokedDeviceIds"`
}

// handleSessionsRevoke revokes by device, by explicit session ids, or
// everything. The response lists what actually transitioned, so a repeat call
// returns empty lists.
func (a *API) handleSessionsRevoke(w http.ResponseWriter, r *http.Request) {
	var req sessionsRevokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	reason := req.Reason
	switch reason {
	case "":
		reason = sessiondomain.ReasonUserRequest
	case sessiondomain.ReasonUserRequest, sessiondomain.ReasonAdminAction:
	default:
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "unknown revocation reason")
		return
	}

	deviceIDs := req.DeviceIDs
	if req.DeviceID != "" {
		deviceIDs = append(deviceIDs, req.DeviceID)
	}

	var outcome *sessionservice.Outcome
	var err error
	switch {
	case req.RevokeAllSessions:
		outcome, err = a.revocations.RevokeAll(r.Context(), id.UserID, reason, id.SessionID, req.IncludeCurrent)
	case len(req.SessionIDs) > 0:
		outcome, err = a.revocations.RevokeSessions(r.Context(), id.UserID, req.SessionIDs, reason)
	case len(deviceIDs) > 0:
		outcome, err = a.revocations.RevokeDevices(r.Context(), id.UserID, deviceIDs, reason, id.SessionID, req.IncludeCurrent)
	default:
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "nothing to revoke")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not revoke sessions")
		return
	}
	a.auditLog(r, id.OrgID, id.UserID, "sessions.revoked", reason)
	writeData(w, http.StatusOK, sessionsRevokeResponse{
		RevokedSessionIDs: outcome.RevokedSessionIDs,
		RevokedDeviceIDs:  outcome.RevokedDeviceIDs,
	})
}
