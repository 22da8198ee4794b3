package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger returns a chi-compatible middleware that logs each request
// with method, path, remote address, and duration. The response writer is
// passed through unwrapped so websocket upgrades keep their Hijacker; for
// an upgraded connection the duration covers the whole session.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
			)
		})
	}
}
