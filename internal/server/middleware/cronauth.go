package middleware

import (
	"crypto/subtle"
	"net/http"
)

// CronAuth protects job-trigger endpoints with a dedicated shared secret.
// Unlike Auth, an empty secret does NOT disable the check: cron endpoints
// mutate challenge state, so without a configured secret every call is
// rejected before any handler code runs.
func CronAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeUnauthorized(w, "cron endpoints disabled")
				return
			}
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
