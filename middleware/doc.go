// Package middleware serves the access gate over HTTP for hosts that render
// their screens server side.
//
// # Handlers
//
//   - [Gate] runs sessionauth.Decide for every request path.
//   - [RequireRole] narrows a route to some roles after Gate has run.
//   - [RequestID] carries X-Request-ID into audit events.
//
// The package translates decisions into HTTP responses. It makes no
// authorization decisions of its own beyond what Decide returns.
package middleware
