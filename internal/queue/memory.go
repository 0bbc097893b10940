package queue

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Transport for single-binary deployments and tests.
// Nacked messages go to the back of the line.
type Memory struct {
	mu      sync.Mutex
	pending chan envelope
	closed  bool
}

type envelope struct {
	jobID string
	body  []byte
}

// NewMemory creates an in-memory transport with the given buffer size.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	return &Memory{pending: make(chan envelope, buffer)}
}

func (m *Memory) Publish(_ context.Context, jobID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("queue closed")
	}
	select {
	case m.pending <- envelope{jobID: jobID, body: body}:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-m.pending:
				if !ok {
					return
				}
				d := Delivery{
					JobID: env.jobID,
					Body:  env.body,
					Ack:   func() error { return nil },
					Nack: func() error {
						return m.Publish(context.Background(), env.jobID, env.body)
					},
				}
				select {
				case <-ctx.Done():
					// Requeue the message we already pulled.
					_ = m.Publish(context.Background(), env.jobID, env.body)
					return
				case out <- d:
				}
			}
		}
	}()
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.pending)
	}
	return nil
}
