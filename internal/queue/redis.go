package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = 5 * time.Second

// Redis is a list-backed Transport. Publish pushes onto a pending list;
// Consume moves messages to a per-instance processing list so unacked work
// survives a worker crash. Reclaim puts an old processing list back.
type Redis struct {
	client     *redis.Client
	pendingKey string
	workingKey string
	block      time.Duration
}

type message struct {
	JobID string `json:"job_id"`
	Body  []byte `json:"body"`
}

// NewRedis connects to Redis and verifies the connection. name scopes the
// queue keys; instanceID scopes the processing list to this consumer.
func NewRedis(ctx context.Context, url, name, instanceID string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{
		client:     client,
		pendingKey: name + ":pending",
		workingKey: name + ":working:" + instanceID,
		block:      defaultBlockTimeout,
	}, nil
}

func (r *Redis) Publish(ctx context.Context, jobID string, body []byte) error {
	raw, err := json.Marshal(message{JobID: jobID, Body: body})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey, raw).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Reclaim moves everything left on this instance's processing list back to
// pending. Call it on startup so messages from a crashed run are redelivered.
func (r *Redis) Reclaim(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.workingKey, r.pendingKey, "RIGHT", "LEFT").Err()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reclaim: %w", err)
		}
		n++
	}
}

func (r *Redis) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			raw, err := r.client.BLMove(ctx, r.pendingKey, r.workingKey, "RIGHT", "LEFT", r.block).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("queue receive failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			var msg message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				slog.Error("dropping malformed queue message", "error", err)
				if err := r.client.LRem(context.Background(), r.workingKey, 1, raw).Err(); err != nil {
					slog.Error("removing malformed queue message", "error", err)
				}
				continue
			}

			d := Delivery{
				JobID: msg.JobID,
				Body:  msg.Body,
				Ack: func() error {
					return r.client.LRem(context.Background(), r.workingKey, 1, raw).Err()
				},
				Nack: func() error {
					pipe := r.client.TxPipeline()
					pipe.LRem(context.Background(), r.workingKey, 1, raw)
					pipe.LPush(context.Background(), r.pendingKey, raw)
					_, err := pipe.Exec(context.Background())
					return err
				},
			}
			select {
			case <-ctx.Done():
				return
			case out <- d:
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
