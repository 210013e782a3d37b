package authflow

import "errors"

// Sentinel errors for the authentication flow. Each one is fatal for
// the run: the flow never retries a failed transition.
var (
	// ErrNoSessionToken means the sign-on page had no session token
	// hidden field, so no login can be attempted.
	ErrNoSessionToken = errors.New("sign-on page has no session token")

	// ErrUnrecognizedLoginResponse means a portal response matched none
	// of the known markers. The portal may have changed its pages.
	ErrUnrecognizedLoginResponse = errors.New("unrecognized login response")

	// ErrUnresolvedChallenge means a presented challenge question has no
	// configured answer. The flow never guesses.
	ErrUnresolvedChallenge = errors.New("unresolved challenge question")
)
