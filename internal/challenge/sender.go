package challenge

import (
	"context"
	"log"
)

// Sender delivers a one-time code to an email address. Delivery is best-effort
// from the engine's point of view; the signed cookie alone decides validity.
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogSender writes codes to the process log instead of sending mail.
// Used in development and tests.
type LogSender struct{}

// SendCode logs the code for email.
func (LogSender) SendCode(ctx context.Context, email, code string) error {
	log.Printf("challenge: code for %s: %s", email, code)
	return nil
}
