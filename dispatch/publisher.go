package dispatch

import (
	"context"
	"fmt"

	"github.com/notifyhub/server/notification"
)

// Broadcaster delivers an encoded payload to every connected subscriber.
type Broadcaster interface {
	BroadcastToAll(ctx context.Context, payload []byte) error
}

// Publisher encodes notifications and hands them to a Broadcaster.
// It implements Handler so it can forward locally published notifications.
type Publisher struct {
	codec       *notification.Codec
	broadcaster Broadcaster
}

var _ Handler = (*Publisher)(nil)

func NewPublisher(codec *notification.Codec, broadcaster Broadcaster) *Publisher {
	return &Publisher{codec: codec, broadcaster: broadcaster}
}

// Raise encodes n and broadcasts it. Transport failures are returned as is;
// there is no retry or queueing.
func (p *Publisher) Raise(ctx context.Context, n notification.Notification) error {
	data, err := p.codec.Encode(n)
	if err != nil {
		return err
	}
	if err := p.broadcaster.BroadcastToAll(ctx, data); err != nil {
		return fmt.Errorf("broadcast %s: %w", n.NotificationType(), err)
	}
	return nil
}

func (p *Publisher) Handle(ctx context.Context, n notification.Notification) error {
	return p.Raise(ctx, n)
}
