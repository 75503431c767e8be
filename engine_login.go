package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// LoginResult is the outcome of [Engine.Submit].
//
// When RequiresMFA is false Identity is set and the session is established.
// When it is true Email, Medium, and Challenge describe the code that was
// sent; no identity has been persisted yet.
type LoginResult struct {
	RequiresMFA bool
	Identity    Identity

	Email       string
	Medium      DeliveryMedium
	Destination string
	Challenge   *Challenge
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// Submit starts a login attempt with email and password.
//
// Only one attempt runs at a time; a concurrent call fails fast with
// ErrLoginInFlight. Any existing session is signed out first. Provider
// rejections leave the engine Anonymous and are never retried.
func (e *Engine) Submit(ctx context.Context, email, password string) (*LoginResult, error) {
	if e.Loading() {
		return nil, ErrEngineNotReady
	}

	creds := credentials{Email: normalizeEmail(email), Password: password}
	if err := e.checkCredentials(creds); err != nil {
		return nil, err
	}

	if !e.loginInFlight.CompareAndSwap(false, true) {
		e.metricInc(MetricLoginInFlightRejected)
		return nil, ErrLoginInFlight
	}
	defer e.loginInFlight.Store(false)

	e.endExistingSession(ctx)
	e.apply(LoginStarted{})

	start := time.Now()
	outcome, err := e.provider.Login(ctx, creds.Email, creds.Password)
	e.observeProvider(start)
	if err != nil {
		return nil, e.rejectLogin(ctx, creds.Email, classifyProviderError(err))
	}

	if outcome.ChallengeRequired {
		return e.issueChallenge(ctx, creds.Email, outcome)
	}

	id, err := e.establish(ctx)
	if err != nil {
		e.signOutProvider(ctx)
		return nil, e.rejectLogin(ctx, creds.Email, err)
	}

	next := e.apply(LoginSucceeded{Identity: id})
	if _, ok := next.(Authenticated); !ok {
		// Logged out while the provider call was running.
		e.signOutProvider(ctx)
		return nil, e.rejectLogin(ctx, creds.Email, ErrLoginAborted)
	}
	e.persist(ctx, id)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, id, "", nil, nil)
	e.logger.Info().Str("role", id.Role().String()).Str("tenant", id.TenantID()).Msg("login succeeded")

	return &LoginResult{Identity: id}, nil
}

func (e *Engine) checkCredentials(creds credentials) error {
	err := e.validate.Struct(creds)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return ErrMissingCredentials
			}
		}
		return fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	return ErrMissingCredentials
}

// endExistingSession force-terminates any live session so two authenticated
// contexts never coexist.
func (e *Engine) endExistingSession(ctx context.Context) {
	ch := e.detachChallenge()
	if ch != nil {
		ch.teardown()
	}

	live := ch != nil
	switch e.State().(type) {
	case Authenticated, ChallengePending, ChallengeFailed:
		live = true
	}
	if !live {
		start := time.Now()
		_, err := e.provider.CurrentSession(ctx)
		e.observeProvider(start)
		live = err == nil
	}
	if !live {
		return
	}

	e.logger.Debug().Msg("ending existing session before login")
	e.signOutProvider(ctx)
	e.clearPersisted(ctx)
	e.apply(LoggedOut{})
}

func (e *Engine) rejectLogin(ctx context.Context, email string, err error) error {
	e.apply(LoginRejected{Err: err})
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, Identity{}, email, err, nil)
	if errors.Is(err, ErrNetworkFailure) {
		e.logger.Warn().Err(err).Msg("login failed")
	} else {
		e.logger.Info().Err(err).Msg("login rejected")
	}
	return err
}

func (e *Engine) issueChallenge(ctx context.Context, email string, outcome LoginOutcome) (*LoginResult, error) {
	medium := outcome.Medium
	if medium == 0 {
		medium = MediumEmail
	}
	ch := newChallenge(e, email, medium)

	e.mu.Lock()
	if _, ok := e.state.(Authenticating); !ok {
		e.mu.Unlock()
		e.signOutProvider(ctx)
		return nil, e.rejectLogin(ctx, email, ErrLoginAborted)
	}
	prev := e.state
	next := Transition(prev, ChallengeIssued{Email: email, Medium: medium})
	e.state = next
	e.challenge = ch
	ch.startCooldown()
	e.mu.Unlock()
	e.notify(prev, next)

	if err := e.store.SavePending(ctx, email); err != nil {
		e.logger.Warn().Err(err).Msg("persist pending marker failed")
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, Identity{}, email, nil, func() map[string]string {
		return map[string]string{"medium": medium.String()}
	})

	return &LoginResult{
		RequiresMFA: true,
		Email:       email,
		Medium:      medium,
		Destination: outcome.Destination,
		Challenge:   ch,
	}, nil
}
