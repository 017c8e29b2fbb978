package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// TypeField is the discriminator key embedded in every stored document.
const TypeField = "@type"

var (
	// ErrUnknownKind is returned when a document carries a discriminator
	// that was never registered with the codec.
	ErrUnknownKind = errors.New("unknown payload kind")

	// ErrMissingDiscriminator is returned when a stored document has no
	// discriminator field.
	ErrMissingDiscriminator = errors.New("document has no discriminator")

	// ErrUnregisteredType is returned when encoding a payload whose
	// concrete type was never registered.
	ErrUnregisteredType = errors.New("unregistered payload type")
)

// Codec serializes registered payload types to self-describing JSON
// documents and back, selecting the decode target from the embedded
// discriminator. Construct with NewCodec and register every concrete
// command and event type up front; after registration a Codec is safe
// for concurrent use.
type Codec struct {
	kinds map[string]reflect.Type
	names map[reflect.Type]string
}

// NewCodec returns a codec with an empty type registry.
func NewCodec() *Codec {
	return &Codec{
		kinds: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

// Register binds a kind name to the prototype's concrete type. Pass a
// zero value (or pointer to one) of the payload struct. Re-registering
// the same kind with a different type is an error.
func (c *Codec) Register(kind string, prototype Identifiable) error {
	if kind == "" {
		return errors.New("empty kind name")
	}
	t := reflect.TypeOf(prototype)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if existing, ok := c.kinds[kind]; ok && existing != t {
		return fmt.Errorf("kind %q already registered to %s", kind, existing)
	}
	c.kinds[kind] = t
	c.names[t] = kind
	return nil
}

// KindOf returns the registered kind name for a payload value.
func (c *Codec) KindOf(v Identifiable) (string, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	kind, ok := c.names[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredType, t)
	}
	return kind, nil
}

// Encode serializes v to a JSON document with the discriminator injected.
func (c *Codec) Encode(v Identifiable) ([]byte, error) {
	kind, err := c.KindOf(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s payload is not a JSON object: %w", kind, err)
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	doc[TypeField] = tag
	return json.Marshal(doc)
}

// Decode reads the discriminator from data and deserializes the document
// into a new value of the registered type. The returned value is a
// pointer to the registered struct type.
func (c *Codec) Decode(data []byte) (Identifiable, error) {
	var envelope struct {
		Kind *string `json:"@type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	if envelope.Kind == nil || *envelope.Kind == "" {
		return nil, ErrMissingDiscriminator
	}
	t, ok := c.kinds[*envelope.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, *envelope.Kind)
	}
	v := reflect.New(t)
	if err := json.Unmarshal(data, v.Interface()); err != nil {
		return nil, fmt.Errorf("decode %q payload: %w", *envelope.Kind, err)
	}
	rec, ok := v.Interface().(Identifiable)
	if !ok {
		return nil, fmt.Errorf("kind %q does not implement Identifiable", *envelope.Kind)
	}
	return rec, nil
}
