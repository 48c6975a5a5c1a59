package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/notifyhub/server/logger"
)

type ctxKey struct{}

// Logger returns the request-scoped logger stored by RequestLogger, or the
// default logger.
func Logger(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// RequestLogger tags each request with a requestId logger and logs its
// outcome. WebSocket upgrades are passed through unwrapped so the connection
// can be hijacked.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.NewRequestLogger()
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, log))

		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			log.Debug("websocket upgrade", "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
