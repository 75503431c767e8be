package sessionauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/reviewpulse/sessionauth/internal/audit"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Engine is the client-side session service. It owns the session state
// machine, the persisted snapshot, and at most one pending challenge.
//
// Engine methods are safe for concurrent use. The state lock is never held
// across a provider call.
type Engine struct {
	config    Config
	provider  IdentityProvider
	store     *session.Store
	routes    RouteTable
	logger    zerolog.Logger
	validate  *validator.Validate
	navigator Navigator
	newTicker TickerFunc
	listeners []func(State)
	audit     *audit.Dispatcher
	metrics   *Metrics
	tokens    singleflight.Group

	loginInFlight atomic.Bool

	mu        sync.Mutex
	state     State
	challenge *Challenge
	// resets counts Logout and HandleUnauthorized calls. Work that started
	// before a reset compares it to drop late results.
	resets uint64

	hydrateOnce     sync.Once
	ready           chan struct{}
	hydrateIdentity Identity
	hydrateOK       bool
	hydrateErr      error
}

// Close stops the audit dispatcher and tears down any pending challenge
// timers. It does not sign out.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if ch := e.detachChallenge(); ch != nil {
		ch.teardown()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType splits AuditDropped by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return map[string]uint64{}
	}
	return e.audit.Stats().DroppedByType
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeProvider(start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(MetricProviderLatency, time.Since(start))
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Identity returns the signed-in identity, if any.
func (e *Engine) Identity() (Identity, bool) {
	if s, ok := e.State().(Authenticated); ok {
		return s.Identity, true
	}
	return Identity{}, false
}

// Routes returns the route table the engine was built with.
func (e *Engine) Routes() RouteTable {
	return e.routes
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Challenge returns the pending challenge, or nil.
func (e *Engine) Challenge() *Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenge
}

// PendingEmail returns the email persisted for an in-progress challenge.
// A challenge screen without it should send the user back to login.
func (e *Engine) PendingEmail(ctx context.Context) (string, bool) {
	email, ok, err := e.store.LoadPending(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("pending marker unreadable")
		return "", false
	}
	return email, ok
}

// apply runs ev through the state machine and notifies listeners.
func (e *Engine) apply(ev Event) State {
	e.mu.Lock()
	prev := e.state
	next := Transition(prev, ev)
	e.state = next
	e.mu.Unlock()

	e.notify(prev, next)
	return next
}

func (e *Engine) notify(prev, next State) {
	if prev.String() != next.String() {
		e.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("session state changed")
	}
	for _, fn := range e.listeners {
		fn(next)
	}
}

func (e *Engine) beginReset() {
	e.mu.Lock()
	e.resets++
	e.mu.Unlock()
}

func (e *Engine) resetCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// detachChallenge unlinks the current challenge so late results from it are
// dropped. The caller tears it down outside the engine lock.
func (e *Engine) detachChallenge() *Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.challenge
	e.challenge = nil
	return ch
}

// challengeEvent applies ev only while ch is still the engine's challenge.
func (e *Engine) challengeEvent(ch *Challenge, ev Event) (State, bool) {
	e.mu.Lock()
	if e.challenge != ch {
		e.mu.Unlock()
		return nil, false
	}
	prev := e.state
	next := Transition(prev, ev)
	e.state = next
	e.mu.Unlock()

	e.notify(prev, next)
	return next, true
}

// completeChallenge moves to Authenticated and releases ch in one step.
func (e *Engine) completeChallenge(ch *Challenge, id Identity) bool {
	e.mu.Lock()
	if e.challenge != ch {
		e.mu.Unlock()
		return false
	}
	prev := e.state
	next := Transition(prev, ChallengeVerified{Identity: id})
	e.state = next
	e.challenge = nil
	e.mu.Unlock()

	e.notify(prev, next)
	_, ok := next.(Authenticated)
	return ok
}

// abandonChallenge is called by Challenge.Close.
func (e *Engine) abandonChallenge(ctx context.Context, ch *Challenge) {
	e.mu.Lock()
	if e.challenge != ch {
		e.mu.Unlock()
		return
	}
	e.challenge = nil
	prev := e.state
	next := Transition(prev, ChallengeAbandoned{})
	e.state = next
	e.mu.Unlock()

	e.notify(prev, next)
	if err := e.store.ClearPending(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("clear pending marker failed")
	}
	e.metricInc(MetricChallengeAbandoned)
	e.emitAudit(ctx, auditEventChallengeAbandoned, true, Identity{}, ch.email, nil, nil)
}

// establish fetches attributes for the freshly signed-in user.
func (e *Engine) establish(ctx context.Context) (Identity, error) {
	start := time.Now()
	attrs, err := e.provider.Attributes(ctx)
	e.observeProvider(start)
	if err != nil {
		return Identity{}, classifyProviderError(err)
	}
	id, err := IdentityFrom(attrs)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

// persist writes the snapshot. The snapshot is a hint, so a failed write is
// logged and counted but never undoes the state change.
func (e *Engine) persist(ctx context.Context, id Identity) {
	err := e.store.Save(ctx, session.Snapshot{
		Email:    id.Email(),
		Role:     id.Role().String(),
		TenantID: id.TenantID(),
	})
	if err != nil {
		e.metricInc(MetricPersistFailure)
		e.logger.Warn().Err(err).Msg("persist session snapshot failed")
	}
}

func (e *Engine) clearPersisted(ctx context.Context) {
	if err := e.store.Clear(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("clear session snapshot failed")
	}
	if err := e.store.ClearPending(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("clear pending marker failed")
	}
}

// signOutProvider ends the provider session. Failures are logged only.
func (e *Engine) signOutProvider(ctx context.Context) {
	start := time.Now()
	err := e.provider.SignOut(ctx)
	e.observeProvider(start)
	if err != nil && !errors.Is(err, ErrNoActiveSession) {
		e.logger.Warn().Err(err).Msg("provider sign-out failed")
	}
}

// dropOrphanSession signs out a provider session opened by a discarded
// challenge. It leaves the provider alone once a newer login has started.
func (e *Engine) dropOrphanSession(ctx context.Context) {
	if e.loginInFlight.Load() {
		return
	}
	e.mu.Lock()
	_, anonymous := e.state.(Anonymous)
	e.mu.Unlock()
	if anonymous {
		e.signOutProvider(ctx)
	}
}

// Logout signs out and returns to Anonymous. It never fails and calling it
// again is harmless.
func (e *Engine) Logout(ctx context.Context) {
	prev, _ := e.Identity()
	e.beginReset()

	if ch := e.detachChallenge(); ch != nil {
		ch.teardown()
	}
	e.signOutProvider(ctx)
	e.clearPersisted(ctx)
	e.apply(LoggedOut{})

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, prev, "", nil, nil)
}

// HandleUnauthorized resets the session after the protected API answered
// 401. The state is Anonymous when it returns and the navigator has been
// sent to the login screen, unless the current path already is the login
// screen.
func (e *Engine) HandleUnauthorized(ctx context.Context) {
	prev, _ := e.Identity()
	e.beginReset()

	if ch := e.detachChallenge(); ch != nil {
		ch.teardown()
	}
	e.clearPersisted(ctx)
	e.apply(SessionRevoked{})

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, prev, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{"path": CurrentPath(ctx)}
	})
	e.logger.Info().Str("path", CurrentPath(ctx)).Msg("session revoked by api")

	if !e.routes.IsLogin(CurrentPath(ctx)) {
		e.navigator.Navigate(ctx, e.routes.Login())
	}
}
