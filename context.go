package sessionauth

import "context"

type currentPathContextKey struct{}
type requestIDContextKey struct{}

// WithCurrentPath attaches the screen the user is on to ctx. The engine
// uses it to avoid redirecting to the login screen from the login screen.
func WithCurrentPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, currentPathContextKey{}, path)
}

// WithRequestID attaches a correlation id that is copied into audit events
// and log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// CurrentPath returns the path set by [WithCurrentPath].
func CurrentPath(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	path, _ := ctx.Value(currentPathContextKey{}).(string)
	return path
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
