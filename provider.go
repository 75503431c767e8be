package sessionauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// IdentityProvider is the external service that owns credentials, one-time
// codes, and tokens. Adapters live under provider/.
//
// Implementations should report failures with the package sentinels
// (ErrInvalidCredentials, ErrInvalidOrExpiredCode, ErrNoActiveSession, ...).
// Anything else is treated as ErrNetworkFailure.
type IdentityProvider interface {
	// Login submits a password. A nil error with ChallengeRequired set means a
	// code was sent and the session is not established yet.
	Login(ctx context.Context, email, password string) (LoginOutcome, error)
	// ConfirmChallenge answers the pending challenge with code.
	ConfirmChallenge(ctx context.Context, code string) error
	// ResendChallenge issues a new code for the pending challenge.
	ResendChallenge(ctx context.Context) error
	// CurrentSession reports the live session, or ErrNoActiveSession.
	CurrentSession(ctx context.Context) (ProviderSession, error)
	// Attributes returns the signed-in user's profile attributes.
	Attributes(ctx context.Context) (Attributes, error)
	// SignOut ends the provider session. Signing out twice is not an error.
	SignOut(ctx context.Context) error
	// AccessToken returns the current bearer credential.
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

// LoginOutcome is the provider's answer to a password submission.
type LoginOutcome struct {
	ChallengeRequired bool
	Medium            DeliveryMedium
	// Destination is the masked address the code went to, when known.
	Destination string
}

// ProviderSession describes a live provider session.
type ProviderSession struct {
	Subject   string
	ExpiresAt time.Time
}

// Navigator moves the host application to another screen.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to [Navigator].
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }

type noopNavigator struct{}

func (noopNavigator) Navigate(context.Context, string) {}
