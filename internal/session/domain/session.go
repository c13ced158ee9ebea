package domain

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive marks a session that has never rotated its refresh chain.
	StatusActive Status = "active"
	// StatusRotated marks a live session whose refresh chain has rotated at
	// least once. Still fully usable; kept distinct for session listings.
	StatusRotated Status = "rotated"
	// StatusRevoked is terminal. Every credential derived from the session is
	// dead, including refresh records not yet rotated.
	StatusRevoked Status = "revoked"
)

// Revocation reasons recorded on sessions and emitted with revocation events.
const (
	ReasonUserLogout    = "user_logout"
	ReasonUserRequest   = "user_request"
	ReasonRefreshReuse  = "refresh_reuse"
	ReasonRotationRace  = "rotation_race"
	ReasonAdminAction   = "admin_action"
)

// Session represents one authenticated device/client instance for a user.
// It is the unit of revocation and is never physically deleted.
type Session struct {
	ID            string
	UserID        string
	OrgID         string // active org; may change via org selection
	DeviceID      string // optional client-supplied device binding
	Status        Status
	RevokedReason string
	// TokenName records the client identity access tokens are minted under
	// (e.g. "mobile:ios-app").
	TokenName     string
	CreatedAt     time.Time
	LastRotatedAt *time.Time
	RevokedAt     *time.Time
}

// Usable reports whether credentials may still be derived from the session.
func (s *Session) Usable() bool {
	return s != nil && s.Status != StatusRevoked
}

// RefreshTokenRecord is one link in a session's rotation chain. The secret
// value is stored only as a salted hash; the wire token carries the record id
// for lookup. A record may be consumed at most once.
type RefreshTokenRecord struct {
	ID         string
	SessionID  string
	Salt       string
	SecretHash string
	// DeviceID binds the record to a device when non-empty; rotation from a
	// different device is rejected without consuming the record.
	DeviceID    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	SucceededBy string // id of the next record once rotated; empty while unused
}

// Consumed reports whether the record has already been spent.
func (r *RefreshTokenRecord) Consumed() bool {
	return r != nil && r.ConsumedAt != nil
}
