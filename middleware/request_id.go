package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/reviewpulse/sessionauth"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// RequestID puts the request id on the context so audit events carry it.
// Requests without one get a fresh UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(sessionauth.WithRequestID(r.Context(), id)))
	})
}
