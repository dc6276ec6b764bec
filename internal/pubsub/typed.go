package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Event[T] wraps a topic name and provides type-safe publishing and subscribing.
type Event[T any] struct {
	topicName   string
	description string
}

// NewEvent creates a typed event bound to a topic name.
func NewEvent[T any](name string, description string) Event[T] {
	return Event[T]{
		topicName:   name,
		description: description,
	}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Description returns the human-readable purpose of the topic.
func (e Event[T]) Description() string {
	return e.description
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], payload T, metadata ...map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event.Name(), err)
	}

	msg := Message{
		Topic:   event.Name(),
		Payload: data,
	}
	if len(metadata) > 0 {
		msg.Metadata = metadata[0]
	}
	return p.Publish(ctx, msg)
}

// Subscribe registers a handler that receives decoded T values.
// Payloads that fail to decode are logged and skipped.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(context.Context, T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			slog.Error("Failed to unmarshal typed event", "topic", event.Name(), "error", err)
			return nil
		}
		return handler(ctx, payload)
	})
}
