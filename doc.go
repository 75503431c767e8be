// Package sessionauth orchestrates client-side authentication for the
// ReviewPulse dashboard: credential submission, one-time code challenges,
// session hydration across restarts, bearer tokens for API calls, and
// role-based route gating.
//
// An [Engine] is built once with [New] and passed to whatever UI or CLI
// layer drives it. Engine methods are safe to call from multiple goroutines.
//
// # Lifecycle
//
//	engine, err := sessionauth.New().
//		WithIdentityProvider(p).
//		WithStore(session.NewMemoryBackend()).
//		Build()
//	id, ok, err := engine.Hydrate(ctx)     // once at start-up
//	res, err := engine.Submit(ctx, email, password)
//	if res.RequiresMFA {
//		id, err = res.Challenge.Paste(ctx, code)
//	}
//	decision := sessionauth.Decide(engine.State(), path, engine.Routes())
//
// # Architecture boundaries
//
// sessionauth is the public surface: [Engine], [Builder], [Config], the
// [State] machine, and [Decide]. Identity providers plug in through
// [IdentityProvider]; persistence through session.Backend. Concrete
// adapters live under provider/.
//
// # What this package must NOT do
//
//   - Treat the persisted snapshot as proof of a session. Hydration always
//     asks the provider.
//   - Retry a rejected login or code on its own.
//   - Log or audit passwords, one-time codes, or tokens.
//   - Hold the state lock across a provider call.
package sessionauth
