package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/notifyhub/server/dispatch"
	"github.com/notifyhub/server/logger"
	"github.com/sourcegraph/jsonrpc2"
)

var (
	ErrConnection = errors.New("connection error")
	ErrSend       = errors.New("send error")
)

// Conn is a subscriber connection to a Hub.
type Conn struct {
	rpc    *jsonrpc2.Conn
	cancel context.CancelFunc
	log    *slog.Logger

	mu        sync.Mutex
	onMessage func(ctx context.Context, payload []byte)
}

var _ dispatch.Connection = (*Conn)(nil)

// DialOption configures a Conn before it starts reading.
type DialOption func(*Conn)

// WithMessageHandler installs fn before the first frame is read, so no
// notification arriving right after the handshake is dropped.
func WithMessageHandler(fn func(ctx context.Context, payload []byte)) DialOption {
	return func(c *Conn) {
		c.onMessage = fn
	}
}

// Dial connects to a Hub endpoint such as ws://host:8080/notifications.
func Dial(ctx context.Context, endpoint string, opts ...DialOption) (*Conn, error) {
	wsConn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, endpoint, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cancel: cancel,
		log:    slog.With("endpoint", endpoint),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Synchronous handler: notifications are delivered in arrival order.
	c.rpc = jsonrpc2.NewConn(connCtx, newWebSocketStream(wsConn), c)

	go func() {
		<-c.rpc.DisconnectNotify()
		cancel()
	}()

	c.log.Info("connected")
	return c, nil
}

// OnMessage sets the callback invoked once per inbound notification payload.
func (c *Conn) OnMessage(fn func(ctx context.Context, payload []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Send sends payload to the hub as a notification.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.rpc.DisconnectNotify():
		return fmt.Errorf("%w: connection closed", ErrSend)
	default:
	}

	if err := c.rpc.Notify(ctx, MethodNotification, json.RawMessage(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.rpc.DisconnectNotify()
}

func (c *Conn) Close() error {
	c.cancel()
	if err := c.rpc.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "notification callback panic", "method", req.Method)
		}
	}()

	if req.Method != MethodNotification || !req.Notif {
		if !req.Notif {
			replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method, c.log)
		}
		return
	}

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()

	if fn == nil || req.Params == nil {
		c.log.Debug("dropping notification without listener")
		return
	}
	fn(ctx, *req.Params)
}
