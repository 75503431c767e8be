package sessionauth

import (
	"context"
	"errors"
	"time"

	"github.com/reviewpulse/sessionauth/session"
)

// Hydrate reconciles the engine with the identity provider at start-up.
//
// It runs once per Engine. Later and concurrent calls wait for the first
// run and return its result. The persisted snapshot is read only as a hint
// and a corrupt one is cleared. A live provider session yields the identity
// and ok=true. No session yields ok=false and a nil error. A provider
// failure yields ok=false and the classified error. In both of those cases
// the engine ends Anonymous with persisted state cleared.
func (e *Engine) Hydrate(ctx context.Context) (Identity, bool, error) {
	e.hydrateOnce.Do(func() {
		e.hydrateIdentity, e.hydrateOK, e.hydrateErr = e.hydrate(ctx)
		close(e.ready)
	})
	return e.hydrateIdentity, e.hydrateOK, e.hydrateErr
}

// Ready returns a channel closed once hydration has settled.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Loading reports whether hydration is still pending. Hosts block route
// rendering while it is true.
func (e *Engine) Loading() bool {
	select {
	case <-e.ready:
		return false
	default:
		return true
	}
}

func (e *Engine) hydrate(ctx context.Context) (Identity, bool, error) {
	resets := e.resetCount()

	hint, err := e.store.Load(ctx)
	switch {
	case err == nil:
		e.logger.Debug().Str("role", hint.Role).Msg("persisted snapshot found")
	case errors.Is(err, session.ErrNoSnapshot):
	case errors.Is(err, session.ErrCorruptSnapshot):
		e.metricInc(MetricCorruptPersistedState)
		e.emitAudit(ctx, auditEventCorruptState, false, Identity{}, "", ErrCorruptPersistedState, nil)
		e.logger.Warn().Err(err).Msg("corrupt persisted snapshot cleared")
		if err := e.store.Clear(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("clear session snapshot failed")
		}
	default:
		e.logger.Warn().Err(err).Msg("persisted snapshot unreadable")
	}

	start := time.Now()
	sess, err := e.provider.CurrentSession(ctx)
	e.observeProvider(start)
	if err != nil {
		err = classifyProviderError(err)
		if errors.Is(err, ErrNoActiveSession) {
			e.settleAnonymous(ctx, nil)
			return Identity{}, false, nil
		}
		e.logger.Warn().Err(err).Msg("session check failed")
		e.settleAnonymous(ctx, err)
		return Identity{}, false, err
	}

	id, err := e.establish(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("live session has unusable attributes")
		e.settleAnonymous(ctx, err)
		return Identity{}, false, err
	}

	if next := e.apply(HydratedLive{Identity: id}); !isAuthenticated(next) || e.resetCount() != resets {
		return e.hydrateSuperseded(ctx)
	}
	e.persist(ctx, id)
	if e.resetCount() != resets {
		return e.hydrateSuperseded(ctx)
	}
	if err := e.store.ClearPending(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("clear pending marker failed")
	}

	e.metricInc(MetricHydrateLive)
	e.emitAudit(ctx, auditEventHydrateLive, true, id, "", nil, func() map[string]string {
		if sess.ExpiresAt.IsZero() {
			return nil
		}
		return map[string]string{"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339)}
	})
	e.logger.Info().Str("role", id.Role().String()).Str("tenant", id.TenantID()).Msg("session restored")
	return id, true, nil
}

// hydrateSuperseded drops a live result because Logout or HandleUnauthorized
// ran while hydration was in flight. The snapshot may have been written
// after the reset cleared it, so it is cleared again.
func (e *Engine) hydrateSuperseded(ctx context.Context) (Identity, bool, error) {
	e.logger.Info().Msg("session reset during hydration; restored session dropped")
	e.settleAnonymous(ctx, nil)
	return Identity{}, false, nil
}

func isAuthenticated(s State) bool {
	_, ok := s.(Authenticated)
	return ok
}

func (e *Engine) settleAnonymous(ctx context.Context, cause error) {
	e.clearPersisted(ctx)
	e.apply(HydratedNone{})
	e.metricInc(MetricHydrateNone)
	e.emitAudit(ctx, auditEventHydrateNone, cause == nil, Identity{}, "", cause, nil)
}
