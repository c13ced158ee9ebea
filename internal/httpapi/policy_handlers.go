package httpapi

import (
	"net/http"

	"session-control-plane/internal/policy/engine"
)

type policyAuthorizeRequest struct {
	OrgID           string   `json:"org_id"`
	UserID          string   `json:"user_id"`
	RequiredScopes  []string `json:"required_scopes"`
	RequestedTopics []string `json:"requested_topics"`
}

type policyAuthorizeResponse struct {
	Allowed      bool     `json:"allowed"`
	DeniedTopics []string `json:"deniedTopics"`
}

// handlePolicyAuthorize answers policy questions for trusted runtimes. The
// caller authenticates with a machine signature, not a user credential, so
// the subject is taken from the body.
func (a *API) handlePolicyAuthorize(w http.ResponseWriter, r *http.Request) {
	var req policyAuthorizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrgID == "" || req.UserID == "" || len(req.RequiredScopes) == 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "org_id, user_id and required_scopes are required")
		return
	}
	m, err := a.memberships.Get(r.Context(), req.UserID, req.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not check membership")
		return
	}
	if m == nil {
		writeData(w, http.StatusOK, policyAuthorizeResponse{Allowed: false, DeniedTopics: []string{}})
		return
	}
	decision, err := a.policy.Authorize(r.Context(), engine.Input{
		Principal:       req.UserID,
		OrgID:           req.OrgID,
		MemberRole:      m.Role,
		MemberScopes:    m.Scopes,
		TopicGrants:     m.TopicGrants,
		RequestedScopes: req.RequiredScopes,
		RequestedTopics: req.RequestedTopics,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "policy engine unavailable")
		return
	}

	allowed := len(decision.AllowedScopes) == len(req.RequiredScopes)
	denied := diffTopics(req.RequestedTopics, decision.AllowedTopics)
	if len(req.RequestedTopics) > 0 && len(decision.AllowedTopics) == 0 {
		allowed = false
	}
	writeData(w, http.StatusOK, policyAuthorizeResponse{Allowed: allowed, DeniedTopics: denied})
}

func diffTopics(requested, allowed []string) []string {
	granted := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		granted[t] = true
	}
	denied := []string{}
	for _, t := range requested {
		if !granted[t] {
			denied = append(denied, t)
		}
	}
	return denied
}
