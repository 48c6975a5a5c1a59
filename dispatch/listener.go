package dispatch

import (
	"context"
	"log/slog"

	"github.com/notifyhub/server/notification"
)

// Connection is the subscriber-side view of a transport connection.
type Connection interface {
	OnMessage(fn func(ctx context.Context, payload []byte))
	Done() <-chan struct{}
}

// Listener decodes inbound payloads and publishes them into a Registry.
type Listener struct {
	codec    *notification.Codec
	registry *Registry
	log      *slog.Logger
}

func NewListener(codec *notification.Codec, registry *Registry, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{codec: codec, registry: registry, log: log}
}

// OnMessage handles one inbound payload. A payload that cannot be decoded or
// routed is logged and dropped; it never stops the subscription.
func (l *Listener) OnMessage(ctx context.Context, payload []byte) {
	n, err := l.codec.Decode(payload)
	if err != nil {
		l.log.Warn("dropping undecodable notification", "error", err, "len", len(payload))
		return
	}

	if err := l.registry.Publish(ctx, n); err != nil {
		l.log.Debug("notification delivered with handler failures", "notificationType", n.NotificationType(), "error", err)
	}
}

// Run feeds every message arriving on conn into the registry until the
// connection ends or ctx is cancelled. Registrations are left untouched.
func (l *Listener) Run(ctx context.Context, conn Connection) {
	conn.OnMessage(l.OnMessage)

	select {
	case <-conn.Done():
		l.log.Info("subscription ended: connection closed")
	case <-ctx.Done():
		l.log.Info("subscription ended: context done")
	}
}
