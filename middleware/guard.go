package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reviewpulse/sessionauth"
)

// FromParam is the query parameter that carries the path to return to after
// signing in.
const FromParam = "from"

type identityContextKey struct{}

// IdentityFromContext returns the identity Gate attached to the request.
func IdentityFromContext(ctx context.Context) (sessionauth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(sessionauth.Identity)
	return id, ok
}

// GateOption tunes [Gate].
type GateOption func(*gateOptions)

type gateOptions struct {
	retryAfter time.Duration
}

// WithRetryAfter sets the Retry-After hint sent while the engine hydrates.
func WithRetryAfter(d time.Duration) GateOption {
	return func(o *gateOptions) { o.retryAfter = d }
}

// Gate decides every request against the engine's current state.
//
// Loading answers 503 with Retry-After, redirects answer 302 and carry the
// original path in ?from=, and rendered requests reach next with the current
// path and identity on their context.
func Gate(engine *sessionauth.Engine, opts ...GateOption) func(http.Handler) http.Handler {
	o := gateOptions{retryAfter: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}

			routes := engine.Routes()
			state := engine.State()
			d := sessionauth.Decide(state, r.URL.Path, routes)

			switch d.Kind {
			case sessionauth.DecisionLoading:
				secs := int(o.retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "loading", http.StatusServiceUnavailable)
			case sessionauth.DecisionRedirect:
				http.Redirect(w, r, redirectTarget(d), http.StatusFound)
			default:
				ctx := sessionauth.WithCurrentPath(r.Context(), r.URL.Path)
				if auth, ok := state.(sessionauth.Authenticated); ok {
					ctx = context.WithValue(ctx, identityContextKey{}, auth.Identity)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

func redirectTarget(d sessionauth.Decision) string {
	if d.From == "" {
		return d.To
	}
	return d.To + "?" + url.Values{FromParam: {d.From}}.Encode()
}
