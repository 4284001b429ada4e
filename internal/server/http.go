// internal/server/http.go
//
// HTTP server helper with robust timeouts.
//
//   • ReadHeaderTimeout – abort slow-loris headers (5 s)
//   • ReadTimeout       – cap request bodies (10 s)
//   • WriteTimeout      – cap total response time (15 s)
//   • IdleTimeout       – close keep-alives on idle clients (60 s)
//
// Centralised here so cmd/nekoconf doesn't repeat the boilerplate.

package server

import (
	"net/http"
	"time"
)

// NewHTTP constructs an *http.Server with the defaults above.
func NewHTTP(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
