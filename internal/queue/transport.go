// Package queue decouples job submission from execution. Delivery is
// at-least-once: a message stays owned by its consumer until acked, and a
// nack or a consumer crash puts it back in line.
package queue

import "context"

// Delivery is one consumed message. Exactly one of Ack or Nack must be
// called when processing finishes.
type Delivery struct {
	JobID string
	Body  []byte

	// Ack removes the message permanently.
	Ack func() error
	// Nack returns the message to the queue for redelivery.
	Nack func() error
}

// Transport moves job messages between the API and the workers.
type Transport interface {
	Publish(ctx context.Context, jobID string, body []byte) error
	// Consume returns a channel of deliveries. The channel closes when ctx
	// is canceled or the transport shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
