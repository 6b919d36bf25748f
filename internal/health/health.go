// Package health serves liveness and readiness probes.
package health

import (
	"net/http"
	"time"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// FrameSource reports the wall time of the most recent frame.
// ok is false before the first frame.
type FrameSource func() (at time.Time, ok bool)

// Readyz returns a handler that is ready once src has produced a frame no
// older than maxAge. A zero maxAge only requires that a frame exists.
func Readyz(src FrameSource, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")

		at, ok := src()
		switch {
		case !ok:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("no frames yet\n"))
			return
		case maxAge > 0 && time.Since(at) > maxAge:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("frame driver stalled\n"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}
