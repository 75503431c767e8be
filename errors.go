package sessionauth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the provider rejects an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the provider reports the account as disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountUnconfirmed is returned when the account never completed sign-up confirmation.
	ErrAccountUnconfirmed = errors.New("account unconfirmed")
	// ErrInvalidOrExpiredCode is returned when a one-time code is wrong or no longer valid.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrNetworkFailure covers every transport-level failure, including timeouts.
	ErrNetworkFailure = errors.New("network failure")
	// ErrNoActiveSession is the expected outcome when nobody is signed in.
	ErrNoActiveSession = errors.New("no active session")
	// ErrCorruptPersistedState is reported when the persisted snapshot could not be parsed.
	ErrCorruptPersistedState = errors.New("corrupt persisted state")
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrLoginInFlight is returned when a login is already running.
	ErrLoginInFlight = errors.New("login already in flight")
	// ErrLoginAborted is returned when the session was ended while a login was running.
	ErrLoginAborted = errors.New("login aborted")
	// ErrVerifyInFlight is returned when a code verification is already running.
	ErrVerifyInFlight = errors.New("verification already in flight")
	// ErrCodeIncomplete is returned when an input did not complete the code.
	ErrCodeIncomplete = errors.New("code incomplete")
	// ErrResendCooldown is returned while the resend cooldown is still running.
	ErrResendCooldown = errors.New("resend cooldown active")
	// ErrChallengeDiscarded is returned by operations on a challenge that was closed or superseded.
	ErrChallengeDiscarded = errors.New("challenge discarded")
	// ErrNoChallenge is returned when no challenge is pending.
	ErrNoChallenge = errors.New("no pending challenge")
	// ErrInvalidAttributes is returned when provider attributes cannot form an identity.
	ErrInvalidAttributes = errors.New("invalid identity attributes")
	// ErrUnauthorized is returned by the API client when the backend answers 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineNotReady is returned when an operation needs hydration to have settled.
	ErrEngineNotReady = errors.New("engine not ready")
)

// classifyProviderError maps a provider failure onto the error taxonomy.
// Sentinels pass through; anything unrecognised, including context
// cancellation and deadlines, is a network failure.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrAccountUnconfirmed),
		errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, ErrNoActiveSession),
		errors.Is(err, ErrInvalidAttributes),
		errors.Is(err, ErrNetworkFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		// Both sentinels stay matchable so hosts can tell a timeout apart.
		return fmt.Errorf("%w: provider timed out: %w", ErrNetworkFailure, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
}

// classifyChallengeError is classifyProviderError for code verification.
// Credential-class errors from a challenge endpoint mean the code or its
// session is no longer usable.
func classifyChallengeError(err error) error {
	err = classifyProviderError(err)
	if errors.Is(err, ErrInvalidCredentials) {
		return fmt.Errorf("%w: %v", ErrInvalidOrExpiredCode, err)
	}
	return err
}

// UserMessage returns the copy shown to the user for err. It returns an
// empty string for nil.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredentials):
		return "Please fill in all fields"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "This account has been disabled"
	case errors.Is(err, ErrAccountUnconfirmed):
		return "Please confirm your account before signing in"
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return "Invalid or expired code"
	case errors.Is(err, ErrCodeIncomplete):
		return "Please enter the full 6-digit code"
	case errors.Is(err, ErrResendCooldown):
		return "Please wait before requesting a new code"
	case errors.Is(err, ErrLoginInFlight), errors.Is(err, ErrVerifyInFlight):
		return "Please wait"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoActiveSession):
		return "Your session has ended, please sign in again"
	case errors.Is(err, ErrChallengeDiscarded), errors.Is(err, ErrNoChallenge):
		return "Your sign-in attempt has ended, please sign in again"
	default:
		return "Something went wrong, please try again"
	}
}
