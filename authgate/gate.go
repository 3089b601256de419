// Package authgate provides the user-presence gate that stands in for a
// platform biometric prompt. The secure store consults a Gate before any
// private-key operation on a key whose access policy requires user
// authentication; the gate is asked exactly once per operation and the store
// never retries a declined challenge on its own.
package authgate

import (
	"context"
	"errors"
)

var (
	// ErrDeclined is returned when the user refused or failed the challenge
	ErrDeclined = errors.New("authentication declined by user")

	// ErrUnavailable is returned when no challenge can be presented at all,
	// e.g. no terminal is attached
	ErrUnavailable = errors.New("authentication gate unavailable")
)

// Gate presents an authentication challenge to the user and blocks until the
// user resolves it. The call is user-paced: implementations impose no timeout
// of their own, though they honor cancellation of ctx before the challenge is
// presented.
type Gate interface {
	Authorize(ctx context.Context, reason string) error
}
