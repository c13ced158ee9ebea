package domain

import "time"

// Policy is an org-scoped Rego module consulted when scoped tokens are
// minted. Disabled policies are kept but never evaluated.
type Policy struct {
	ID        string
	OrgID     string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
