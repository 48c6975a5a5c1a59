package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/notifyhub/server/dispatch"
	"github.com/notifyhub/server/logger"
	"github.com/sourcegraph/jsonrpc2"
)

// MethodNotification is the JSON-RPC method carrying an encoded notification.
const MethodNotification = "notification"

var ErrHubClosed = errors.New("hub closed")

// Hub accepts subscriber connections and broadcasts payloads to all of them.
type Hub struct {
	devMode bool

	mu        sync.RWMutex
	conns     map[string]*jsonrpc2.Conn // connID -> conn
	closed    bool
	onMessage func(ctx context.Context, payload []byte)
}

var _ dispatch.Broadcaster = (*Hub)(nil)

func NewHub(devMode bool) *Hub {
	return &Hub{
		devMode: devMode,
		conns:   make(map[string]*jsonrpc2.Conn),
	}
}

// OnMessage sets the callback for notifications sent by subscribers.
func (h *Hub) OnMessage(fn func(ctx context.Context, payload []byte)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "Hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.HandleStream(r.Context(), newWebSocketStream(conn), uuid.Must(uuid.NewV7()).String())
}

// HandleStream serves one subscriber until it disconnects.
func (h *Hub) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "subscriber connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)

	rpcConn := jsonrpc2.NewConn(ctx, stream, &hubMethodHandler{hub: h, log: log})
	if !h.add(connID, rpcConn) {
		rpcConn.Close()
		return
	}
	log.Info("subscriber connected")

	<-rpcConn.DisconnectNotify()

	h.remove(connID)
	log.Info("subscriber disconnected")
}

// BroadcastToAll sends payload to every connected subscriber. Subscribers
// that fail are skipped; only a closed hub is an error.
func (h *Hub) BroadcastToAll(ctx context.Context, payload []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	conns := make(map[string]*jsonrpc2.Conn, len(h.conns))
	for id, c := range h.conns {
		conns[id] = c
	}
	h.mu.RUnlock()

	var delivered int
	for id, c := range conns {
		if err := c.Notify(ctx, MethodNotification, json.RawMessage(payload)); err != nil {
			slog.Debug("failed to notify subscriber", "connId", id, "error", err)
			continue
		}
		delivered++
	}

	slog.Debug("broadcast notification", "subscribers", len(conns), "delivered", delivered)
	return nil
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every subscriber. Later broadcasts fail with ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*jsonrpc2.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			slog.Debug("failed to close subscriber", "error", err)
		}
	}
	return nil
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) add(connID string, c *jsonrpc2.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[connID] = c
	return true
}

func (h *Hub) remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

func (h *Hub) messageCallback() func(ctx context.Context, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onMessage
}

type hubMethodHandler struct {
	hub *Hub
	log *slog.Logger
}

func (m *hubMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method)
		}
	}()

	m.log.Debug("received request", "method", req.Method, "notif", req.Notif)

	if req.Method == MethodNotification && req.Notif {
		fn := m.hub.messageCallback()
		if fn == nil || req.Params == nil {
			return
		}
		fn(ctx, *req.Params)
		return
	}

	if !req.Notif {
		replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method, m.log)
	}
}

func replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string, log *slog.Logger) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		log.Error("failed to send error response", "error", replyErr)
	}
}
