// internal/middleware/security.go
//
// Security-header middleware for the JSON API.
//
// Sets on every response:
//
//   • Content-Security-Policy   –  nothing may load, nothing may frame us
//   • X-Frame-Options           –  click-jacking defence for old browsers
//   • X-Content-Type-Options    –  MIME-sniffing defence
//   • Referrer-Policy           –  never leak the API URL
//   • Cache-Control             –  configuration must not sit in caches
//
// Notes
// -----
// • Headers are set *before* next.ServeHTTP, because nothing added after
//   the first Write reaches the client.  Handlers may still override any
//   of them.
// • HSTS is left to the TLS-terminating proxy in front of the daemon.

package middleware

import "net/http"

// Security sets security headers for every response.
func Security(next http.Handler) http.Handler {
	const (
		csp   = "default-src 'none'; frame-ancestors 'none'"
		xfo   = "DENY"
		nosn  = "nosniff"
		refer = "no-referrer"
		cache = "no-store"
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", csp)
		h.Set("X-Frame-Options", xfo)
		h.Set("X-Content-Type-Options", nosn)
		h.Set("Referrer-Policy", refer)
		h.Set("Cache-Control", cache)

		next.ServeHTTP(w, r)
	})
}
