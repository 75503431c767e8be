package middleware

import (
	"net/http"

	"github.com/reviewpulse/sessionauth"
)

// RequireRole answers 403 unless the identity Gate attached has one of
// roles. Requests Gate did not authenticate get 401.
func RequireRole(roles ...sessionauth.Role) func(http.Handler) http.Handler {
	allowed := make(map[sessionauth.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[id.Role()]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
