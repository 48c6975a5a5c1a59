package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/notifyhub/server/middleware"
	"github.com/notifyhub/server/notification"
)

// Publisher publishes a notification to local handlers.
type Publisher interface {
	Publish(ctx context.Context, n notification.Notification) error
}

// CounterHandler increments a process-wide counter and announces each new
// value as a CounterChanged notification.
type CounterHandler struct {
	counter   atomic.Int64
	publisher Publisher
}

func NewCounterHandler(publisher Publisher) *CounterHandler {
	return &CounterHandler{publisher: publisher}
}

type counterResponse struct {
	Value int `json:"value"`
}

func (h *CounterHandler) HandleIncrement(w http.ResponseWriter, r *http.Request) {
	log := middleware.Logger(r.Context())
	value := int(h.counter.Add(1))

	if err := h.publisher.Publish(r.Context(), notification.NewCounterChanged(value)); err != nil {
		log.Error("failed to publish counter change", "value", value, "error", err)
		http.Error(w, "Failed to publish notification", http.StatusInternalServerError)
		return
	}

	log.Debug("counter incremented", "value", value)
	writeJSON(w, http.StatusOK, counterResponse{Value: value})
}

func (h *CounterHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, counterResponse{Value: int(h.counter.Load())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
