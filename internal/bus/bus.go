// Package bus carries typed messages between execution contexts.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/oklog/ulid/v2"
)

// ErrNoHandler is returned by Request when nothing handles the message kind.
var ErrNoHandler = errors.New("no handler registered")

// Handler processes one message. The returned value, if any, is the reply.
type Handler func(ctx context.Context, msg events.Message) (any, error)

// Bus routes messages by kind. Delivery is synchronous in the caller's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[events.Kind]map[int]Handler
	nextID   int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[events.Kind]map[int]Handler)}
}

// Handle registers h for kind. The returned func unregisters it.
func (b *Bus) Handle(kind events.Kind, h Handler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers[kind], id)
		b.mu.Unlock()
	}
}

func (b *Bus) snapshot(kind events.Kind) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Handler, 0, len(b.handlers[kind]))
	for _, h := range b.handlers[kind] {
		out = append(out, h)
	}
	return out
}

// NewMessage builds an envelope with a fresh id.
func NewMessage(kind events.Kind, payload any) (events.Message, error) {
	msg := events.Message{
		ID:     ulid.Make().String(),
		Kind:   kind,
		SentAt: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return events.Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Publish delivers a message to every handler of kind and returns how many
// received it. Handler errors are logged, not returned: a broadcast has no
// single recipient to answer.
func (b *Bus) Publish(ctx context.Context, kind events.Kind, payload any) (int, error) {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		return 0, err
	}

	handlers := b.snapshot(kind)
	for _, h := range handlers {
		if _, err := h(ctx, msg); err != nil {
			slog.Warn("message handler failed", "kind", kind, "id", msg.ID, "error", err)
		}
	}
	slog.Debug("published message", "kind", kind, "id", msg.ID, "receivers", len(handlers))
	return len(handlers), nil
}

// Request delivers a message to one handler of kind and decodes its reply
// into reply, which may be nil.
func (b *Bus) Request(ctx context.Context, kind events.Kind, payload, reply any) error {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		return err
	}

	handlers := b.snapshot(kind)
	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	resp, err := handlers[0](ctx, msg)
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, msg.ID, err)
	}
	if reply == nil || resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode %s reply: %w", kind, err)
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", kind, err)
	}
	return nil
}
