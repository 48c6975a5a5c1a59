package notification

import "fmt"

// Type names a concrete notification variant. It travels inside the
// payload as the "notificationType" field.
type Type string

const (
	TypeCounterChanged Type = "CounterChanged"
	TypeFileChanged    Type = "FileChanged"
)

// Notification is an immutable event value broadcast from a publisher to
// subscribers. The discriminator is derived from the concrete type and cannot
// be set independently of it.
type Notification interface {
	NotificationType() Type
}

func init() {
	MustRegister[CounterChanged]()
	MustRegister[FileChanged]()
}

// CounterChanged is raised every time the shared counter is incremented.
type CounterChanged struct {
	Value   int    `json:"value"`
	Display string `json:"display"`
}

func NewCounterChanged(value int) CounterChanged {
	return CounterChanged{
		Value:   value,
		Display: fmt.Sprintf("Counter incremented! new value %d", value),
	}
}

func (CounterChanged) NotificationType() Type { return TypeCounterChanged }

func (c CounterChanged) String() string { return c.Display }

// FileChanged is raised when a file in a watched directory is created,
// written, removed or renamed.
type FileChanged struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

func (FileChanged) NotificationType() Type { return TypeFileChanged }
