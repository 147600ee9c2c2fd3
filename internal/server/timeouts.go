// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts.
//
//   - ReadTimeout   aborts slow-loris headers (10 s)
//   - WriteTimeout  caps total response time
//   - IdleTimeout   closes keep-alives on idle clients (60 s)
//
// A read may wait up to the lock timeout before its handler even starts, so
// WriteTimeout must exceed it.  New adds a fixed margin on top.

package server

import (
	"net/http"
	"time"
)

// writeMargin is the time left for the handler after a full lock wait.
const writeMargin = 15 * time.Second

// New constructs an *http.Server whose write deadline covers lockWait.
func New(addr string, handler http.Handler, lockWait time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      lockWait + writeMargin,
		IdleTimeout:       60 * time.Second,
	}
}
