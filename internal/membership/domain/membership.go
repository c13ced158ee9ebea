package domain

import (
	"slices"
	"time"
)

// OrgMembership grants a user a role inside an org together with the scopes
// and topic grants the policy engine consults when minting scoped tokens.
type OrgMembership struct {
	UserID      string
	OrgID       string
	Role        string
	Scopes      []string
	TopicGrants []string
	Default     bool
	CreatedAt   time.Time
}

// HasScope reports whether the membership grants the scope.
func (m *OrgMembership) HasScope(scope string) bool {
	return slices.Contains(m.Scopes, scope)
}
