package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each request on arrival and again when its handler
// returns. For the websocket endpoint the second line marks the end of the
// connection's lifetime.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
			)

			start := time.Now()
			next.ServeHTTP(w, r)

			// The auth gate sits further down the chain, so the subject is
			// only known once the handler returns.
			var subject string
			if ok {
				subject = reqMeta.Subject
			}
			logger.Info("Request finished",
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("subject", subject),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
