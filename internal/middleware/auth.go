package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is the alternative to an Authorization bearer token.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests that do not present key, either as
// "Authorization: Bearer <key>" or in the X-API-Key header.  An empty key
// disables the check.
func APIKey(key string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(bearer)
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="nekoconf"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid or missing API key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
