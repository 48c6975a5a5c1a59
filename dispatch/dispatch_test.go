package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/server/notification"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (b *fakeBroadcaster) BroadcastToAll(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.payloads = append(b.payloads, payload)
	return nil
}

type fakeConn struct {
	mu   sync.Mutex
	fn   func(ctx context.Context, payload []byte)
	done chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) OnMessage(fn func(ctx context.Context, payload []byte)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) deliver(payload []byte) bool {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(bgCtx, payload)
	return true
}

func TestPublisher_RaiseEncodesAndBroadcasts(t *testing.T) {
	codec := notification.NewCodec()
	b := &fakeBroadcaster{}
	p := NewPublisher(codec, b)

	if err := p.Raise(bgCtx, notification.NewCounterChanged(9)); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}

	if len(b.payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(b.payloads))
	}
	n, err := codec.Decode(b.payloads[0])
	if err != nil {
		t.Fatalf("broadcast payload does not decode: %v", err)
	}
	if n != notification.NewCounterChanged(9) {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestPublisher_SurfacesTransportError(t *testing.T) {
	errDown := errors.New("transport down")
	p := NewPublisher(notification.NewCodec(), &fakeBroadcaster{err: errDown})

	err := p.Raise(bgCtx, notification.NewCounterChanged(1))
	if !errors.Is(err, errDown) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestPublisher_ForwardsFromRegistry(t *testing.T) {
	codec := notification.NewCodec()
	b := &fakeBroadcaster{}
	r := NewRegistry(discardLogger())
	r.Register(NewPublisher(codec, b), notification.TypeCounterChanged)

	if err := r.Publish(bgCtx, notification.NewCounterChanged(1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := r.Publish(bgCtx, notification.FileChanged{Path: "local-only"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(b.payloads) != 1 {
		t.Errorf("expected only CounterChanged to be forwarded, got %d payloads", len(b.payloads))
	}
}

func TestListener_OnMessageSkipsBadPayloads(t *testing.T) {
	codec := notification.NewCodec()
	r := NewRegistry(discardLogger())
	log := &callLog{}
	r.Register(&recordingHandler{name: "h", log: log}, notification.TypeCounterChanged)
	l := NewListener(codec, r, discardLogger())

	good, _ := codec.Encode(notification.NewCounterChanged(2))

	l.OnMessage(bgCtx, []byte("garbage"))
	l.OnMessage(bgCtx, []byte(`{"notificationType":"Bogus"}`))
	l.OnMessage(bgCtx, good)

	calls := log.snapshot()
	if len(calls) != 1 || calls[0].n != notification.NewCounterChanged(2) {
		t.Errorf("expected only the valid payload to be delivered, got %+v", calls)
	}
}

func TestListener_RunUntilConnectionCloses(t *testing.T) {
	codec := notification.NewCodec()
	r := NewRegistry(discardLogger())
	log := &callLog{}
	h := &recordingHandler{name: "h", log: log}
	r.Register(h, notification.TypeFileChanged)
	l := NewListener(codec, r, discardLogger())
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		l.Run(bgCtx, conn)
		close(done)
	}()

	payload, _ := codec.Encode(notification.FileChanged{Path: "a", Op: "CREATE"})
	deadline := time.Now().Add(time.Second)
	for !conn.deliver(payload) {
		if time.Now().After(deadline) {
			t.Fatal("listener never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(conn.done)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after connection closed")
	}

	if len(log.snapshot()) != 1 {
		t.Errorf("expected 1 delivery, got %d", len(log.snapshot()))
	}
	if r.Len(notification.TypeFileChanged) != 1 {
		t.Error("expected registrations to survive disconnect")
	}
}

func TestListener_RunStopsOnContextCancel(t *testing.T) {
	l := NewListener(notification.NewCodec(), NewRegistry(discardLogger()), discardLogger())
	ctx, cancel := context.WithCancel(bgCtx)

	done := make(chan struct{})
	go func() {
		l.Run(ctx, newFakeConn())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
