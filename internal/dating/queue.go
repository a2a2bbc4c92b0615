// internal/dating/queue.go
// Durable queue of events for users who are not connected

package dating

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

// pendingTTL bounds how long undelivered events are kept in Redis
const pendingTTL = 7 * 24 * time.Hour

// Queue holds events until their recipient connects
type Queue interface {
	Push(ctx context.Context, ev *Event) error
	// Drain removes and returns the user's queued events, oldest first
	Drain(ctx context.Context, userID int64) ([]*Event, error)
}

type redisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a queue backed by one Redis list per user
func NewRedisQueue(client *redis.Client) Queue {
	return &redisQueue{client: client}
}

func pendingKey(userID int64) string {
	return fmt.Sprintf("dating:pending:%d", userID)
}

func (q *redisQueue) Push(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := pendingKey(ev.UserID)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.Expire(ctx, key, pendingTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}
	return nil
}

func (q *redisQueue) Drain(ctx context.Context, userID int64) ([]*Event, error) {
	key := pendingKey(userID)

	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain queued events: %w", err)
	}
	return decodeEvents(items.Val())
}

type postgresQueue struct {
	db *sqlx.DB
}

// NewPostgresQueue creates a queue backed by the pending_notifications table
func NewPostgresQueue(db *sqlx.DB) Queue {
	return &postgresQueue{db: db}
}

func (q *postgresQueue) Push(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO pending_notifications (user_id, payload) VALUES ($1, $2)`,
		ev.UserID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}
	return nil
}

func (q *postgresQueue) Drain(ctx context.Context, userID int64) ([]*Event, error) {
	var payloads []string
	err := q.db.SelectContext(ctx, &payloads, `
		WITH drained AS (
			DELETE FROM pending_notifications WHERE user_id = $1
			RETURNING id, payload
		)
		SELECT payload::text FROM drained ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to drain queued events: %w", err)
	}
	return decodeEvents(payloads)
}

func decodeEvents(payloads []string) ([]*Event, error) {
	events := make([]*Event, 0, len(payloads))
	for _, p := range payloads {
		var ev Event
		if err := json.Unmarshal([]byte(p), &ev); err != nil {
			return events, fmt.Errorf("corrupt queued event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

type memoryQueue struct {
	mu     sync.Mutex
	events map[int64][]*Event
}

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue() Queue {
	return &memoryQueue{events: make(map[int64][]*Event)}
}

func (q *memoryQueue) Push(_ context.Context, ev *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events[ev.UserID] = append(q.events[ev.UserID], ev)
	return nil
}

func (q *memoryQueue) Drain(_ context.Context, userID int64) ([]*Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events[userID]
	delete(q.events, userID)
	return events, nil
}
