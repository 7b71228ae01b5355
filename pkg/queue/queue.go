package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Service publishes messages into a queue for asynchronous delivery.
type Service interface {
	PublishMessage(ctx context.Context, msgType string, payload any) error
}

// Job handles one message type pulled off the queue.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type this job consumes.
	Type() string

	// Handle processes one payload. Returning an error schedules a retry
	// until the retry limit, then the message moves to the dead letter list.
	Handle(ctx context.Context, payload any) error
}

// Config tunes queue workers and retry behavior.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
}

// Message is the wire form of one queued item.
type Message struct {
	ID        string
	Type      string
	Payload   any
	Attempts  int
	Timestamp time.Time
}

// ParsePayload decodes a queued payload into a typed struct regardless of
// whether it arrives as the original value or as decoded JSON.
func ParsePayload[T any](payload any) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case map[string]any:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload map: %w", err)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
