package auth

import (
	"net/http"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
)

// IdentifyMiddleware records the caller's user id in the request context so
// per-user rate limits and request logs can see it before the procedure
// guards run. Resolution failures are ignored; the authentication guard
// reports them.
func IdentifyMiddleware(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.GetSession(r.Context(), r.Header)
			if err == nil && id != nil && id.User.ID != "" {
				r = r.WithContext(contextkeys.WithUserID(r.Context(), id.User.ID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
