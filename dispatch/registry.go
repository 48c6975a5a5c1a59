package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/notifyhub/server/logger"
	"github.com/notifyhub/server/notification"
)

// Handler receives notifications of the types it was registered for.
type Handler interface {
	Handle(ctx context.Context, n notification.Notification) error
}

// HandlerError reports a failure raised by one registered handler.
type HandlerError struct {
	Type    notification.Type
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type registration struct {
	owner  any
	invoke func(ctx context.Context, n notification.Notification) error
}

// Registry routes notifications to the handlers registered for their exact
// type. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	handlers map[notification.Type][]registration
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		handlers: make(map[notification.Type][]registration),
		log:      log,
	}
}

// Register appends h to the handler list of each given type. Registering the
// same handler twice for a type makes it run twice per publish. h is also the
// identity passed to Unregister; a non-comparable h (func or map handler) can
// never be unregistered.
func (r *Registry) Register(h Handler, types ...notification.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		r.handlers[t] = append(r.handlers[t], registration{owner: h, invoke: h.Handle})
	}
}

// Subscribe registers fn for T's discriminator. owner identifies the
// registration for Unregister and must be comparable.
func Subscribe[T notification.Notification](r *Registry, owner any, fn func(ctx context.Context, n T) error) {
	var zero T
	t := zero.NotificationType()

	invoke := func(ctx context.Context, n notification.Notification) error {
		v, ok := n.(T)
		if !ok {
			return fmt.Errorf("unexpected notification %T for %s", n, t)
		}
		return fn(ctx, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], registration{owner: owner, invoke: invoke})
}

// Unregister removes every registration owned by owner, across all types.
func (r *Registry) Unregister(owner any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for t, regs := range r.handlers {
		kept := regs[:0:0]
		for _, reg := range regs {
			if !sameOwner(reg.owner, owner) {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.handlers, t)
		} else {
			r.handlers[t] = kept
		}
	}
}

// sameOwner reports a == b without panicking on non-comparable values.
func sameOwner(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if a == nil {
		return true
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

// Len returns the number of registrations for t.
func (r *Registry) Len(t notification.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[t])
}

// Publish invokes the handlers registered for n's type one after another, in
// registration order. Every handler runs even if an earlier one fails; the
// failures are logged and returned joined as *HandlerError values.
func (r *Registry) Publish(ctx context.Context, n notification.Notification) error {
	t := n.NotificationType()

	r.mu.Lock()
	regs := r.handlers[t]
	r.mu.Unlock()

	// Register and Unregister never mutate a published slice in place, so
	// regs stays valid without copying.
	var errs []error
	for _, reg := range regs {
		if err := r.invoke(ctx, reg, n); err != nil {
			herr := &HandlerError{Type: t, Handler: fmt.Sprintf("%T", reg.owner), Err: err}
			r.log.Error("notification handler failed",
				"notificationType", t,
				"handler", herr.Handler,
				"error", err)
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) invoke(ctx context.Context, reg registration, n notification.Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.LogPanic(p, "notification handler panicked",
				"notificationType", n.NotificationType(),
				"handler", fmt.Sprintf("%T", reg.owner))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return reg.invoke(ctx, n)
}
