package httpapi

import (
	"net/http"
	"time"
)

type membershipResponse struct {
	OrgID       string    `json:"orgId"`
	Role        string    `json:"role"`
	Scopes      []string  `json:"scopes"`
	TopicGrants []string  `json:"topicGrants,omitempty"`
	Default     bool      `json:"default"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a *API) handleMembershipsList(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	memberships, err := a.memberships.ListByUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not list memberships")
		return
	}
	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, membershipResponse{
			OrgID:       m.OrgID,
			Role:        m.Role,
			Scopes:      m.Scopes,
			TopicGrants: m.TopicGrants,
			Default:     m.Default,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeData(w, http.StatusOK, map[string]interface{}{"memberships": out})
}

func (a *API) handleActiveOrgGet(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	writeData(w, http.StatusOK, map[string]string{"orgId": id.OrgID})
}

type activeOrgRequest struct {
	OrgID string `json:"org_id"`
}

// handleActiveOrgSet rebinds the session to another org the user belongs to.
// Tokens minted afterwards carry the new org.
func (a *API) handleActiveOrgSet(w http.ResponseWriter, r *http.Request) {
	var req activeOrgRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "org_id is required")
		return
	}
	id := identityFrom(r.Context())
	m, err := a.memberships.Get(r.Context(), id.UserID, req.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not check membership")
		return
	}
	if m == nil {
		writeError(w, http.StatusForbidden, CodeForbidden, "not a member of this org")
		return
	}
	if err := a.store.SetSessionOrg(r.Context(), id.SessionID, req.OrgID); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not switch org")
		return
	}
	a.auditLog(r, req.OrgID, id.UserID, "org.switched", "session:"+id.SessionID)
	writeData(w, http.StatusOK, map[string]string{"orgId": req.OrgID})
}
