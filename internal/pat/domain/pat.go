package domain

import "time"

// PersonalAccessToken is a long-lived machine credential owned by a user.
// The secret is bcrypt hashed at rest; the wire form is shown once at issue
// time and never stored.
type PersonalAccessToken struct {
	ID         string
	UserID     string
	OrgID      string
	Name       string
	SecretHash string
	Scopes     []string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Usable reports whether the token may authenticate at the given time.
func (t *PersonalAccessToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}
