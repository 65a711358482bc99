package middleware

import (
	"fmt"
	"net/http"

	"github.com/paddleraise/authcore/pkg/httputil"
	"github.com/paddleraise/authcore/pkg/ratelimit"
)

// KeyFunc derives the rate-limit key for a request. IPKey is the default for
// unauthenticated endpoints.
type KeyFunc func(r *http.Request) string

// IPKey keys the limit on the client address
func IPKey(r *http.Request) string {
	return httputil.ClientIP(r)
}

// RateLimit rejects requests over the class's policy with 429 and a
// Retry-After header. Limiter outages let traffic through; the limiter logs
// and counts those itself.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.EndpointClass, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = IPKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.CheckAndRecord(r.Context(), class, keyFn(r))
			if !res.Allowed {
				if secs := int(res.RetryAfter.Seconds()); secs > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
				}
				httputil.WriteTooManyRequests(w, "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
