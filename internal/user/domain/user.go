package domain

import "time"

// User is an account identified by its verified email address.
// Accounts are created on the first successful challenge verification.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}
