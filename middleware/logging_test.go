package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	var seen *slog.Logger
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Logger(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name    string
		upgrade string
	}{
		{name: "plain request"},
		{name: "websocket upgrade", upgrade: "websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusTeapot {
				t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
			}
			if seen == nil || seen == slog.Default() {
				t.Error("expected a request-scoped logger in the context")
			}
		})
	}
}

func TestLogger_DefaultWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if Logger(req.Context()) != slog.Default() {
		t.Error("expected default logger")
	}
}
