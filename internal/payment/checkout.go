// Package payment handles checkout sessions with the external payment provider.
package payment

import (
	"context"
)

// Session is a created checkout session the user is redirected to.
type Session struct {
	ID  string
	URL string
}

// VerifyResult is the provider's answer about a checkout session. Verification
// is read-only on the provider side and safe to repeat.
type VerifyResult struct {
	Paid          bool
	AnalysisID    string
	CustomerEmail string
}

// Checkout defines the interface for the payment provider.
type Checkout interface {
	// CreateSession opens a checkout session for unlocking one analysis
	// and returns the URL to send the user to.
	CreateSession(ctx context.Context, analysisID string) (*Session, error)

	// VerifySession checks whether the session was paid and recovers the
	// analysis id from the session metadata.
	VerifySession(ctx context.Context, sessionID string) (*VerifyResult, error)
}
