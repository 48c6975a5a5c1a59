package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// DiscriminatorField is the payload field carrying the variant name.
const DiscriminatorField = "notificationType"

var (
	ErrMalformedPayload = errors.New("malformed notification payload")
	ErrUnknownVariant   = errors.New("unknown notification variant")
	ErrDuplicateVariant = errors.New("notification variant already registered")
)

type decodeFunc func(data []byte) (Notification, error)

var (
	variantsMu sync.RWMutex
	variants   = make(map[Type]decodeFunc)
)

// Register adds T to the set of variants a Codec can decode. Variants
// register themselves from init, so every Codec built afterwards knows them.
// T must be a value type whose zero value reports its discriminator.
func Register[T Notification]() error {
	var zero T
	t := zero.NotificationType()
	if t == "" {
		return fmt.Errorf("%w: empty discriminator for %T", ErrMalformedPayload, zero)
	}

	variantsMu.Lock()
	defer variantsMu.Unlock()

	if _, exists := variants[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariant, t)
	}
	variants[t] = func(data []byte) (Notification, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil
}

// MustRegister is like Register but panics on error. Intended for init.
func MustRegister[T Notification]() {
	if err := Register[T](); err != nil {
		panic(err)
	}
}

// Codec encodes notifications into self-describing JSON documents and
// decodes them back into their concrete types.
type Codec struct {
	variants map[Type]decodeFunc
}

// NewCodec snapshots the variants registered so far.
func NewCodec() *Codec {
	variantsMu.RLock()
	defer variantsMu.RUnlock()

	c := &Codec{variants: make(map[Type]decodeFunc, len(variants))}
	for t, fn := range variants {
		c.variants[t] = fn
	}
	return c
}

// Known returns the discriminators this codec resolves, sorted.
func (c *Codec) Known() []Type {
	types := make([]Type, 0, len(c.variants))
	for t := range c.variants {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Encode serializes every public field of n plus the discriminator. Object
// keys are written in sorted order.
func (c *Codec) Encode(n Notification) ([]byte, error) {
	if n == nil {
		return nil, errors.New("encode: nil notification")
	}
	t := n.NotificationType()
	if _, ok := c.variants[t]; !ok {
		return nil, fmt.Errorf("encode: %w: %q", ErrUnknownVariant, t)
	}

	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("encode %s: variant does not encode to an object", t)
	}

	tag, err := json.Marshal(string(t))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	fields[DiscriminatorField] = tag

	return json.Marshal(fields)
}

// Decode reads the discriminator first, then parses the whole document into
// the matching concrete type.
func (c *Codec) Decode(data []byte) (Notification, error) {
	t, err := readDiscriminator(data)
	if err != nil {
		return nil, err
	}

	decode, ok := c.variants[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, t)
	}

	n, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
	}
	return n, nil
}

// readDiscriminator matches DiscriminatorField case-sensitively.
func readDiscriminator(data []byte) (Type, error) {
	var header map[string]json.RawMessage
	if err := json.Unmarshal(data, &header); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	raw, ok := header[DiscriminatorField]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, DiscriminatorField)
	}
	var name *string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedPayload, DiscriminatorField, err)
	}
	if name == nil || *name == "" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, DiscriminatorField)
	}
	return Type(*name), nil
}
