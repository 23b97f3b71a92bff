package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// RedisQueue implements the reliable-list pattern: producers LPUSH onto the
// pending list, consumers BLMOVE messages onto a per-queue processing list
// and LREM them once persisted. Messages left on the processing list by a
// crashed consumer are recovered on startup via Requeue.
type RedisQueue struct {
	client *redis.Client
}

type envelope struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

func NewRedisQueue(host string, port int, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis queue initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func pendingKey(queue string) string {
	return "queue:" + queue
}

func processingKey(queue string) string {
	return "queue:" + queue + ":processing"
}

func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	env := envelope{
		ID:   uuid.New().String(),
		Body: json.RawMessage(payload),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := q.client.LPush(ctx, pendingKey(queue), data).Err(); err != nil {
		return "", faults.Transientf("enqueue to %s failed: %v", queue, err)
	}

	logger.Debug("Message enqueued", zap.String("queue", queue), zap.String("message_id", env.ID))
	return env.ID, nil
}

func (q *RedisQueue) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error) {
	src := pendingKey(queue)
	dst := processingKey(queue)

	messages := make([]Message, 0, maxMessages)

	// Block for the first message only; drain the rest without waiting.
	raw, err := q.client.BLMove(ctx, src, dst, "RIGHT", "LEFT", wait).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Transientf("receive from %s failed: %v", queue, err)
	}

	if msg, ok := q.decode(queue, raw); ok {
		messages = append(messages, msg)
	}

	for len(messages) < maxMessages {
		raw, err := q.client.LMove(ctx, src, dst, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return messages, faults.Transientf("receive from %s failed: %v", queue, err)
		}
		if msg, ok := q.decode(queue, raw); ok {
			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// decode unwraps an envelope; a corrupt envelope is removed immediately so it
// cannot wedge the processing list.
func (q *RedisQueue) decode(queue, raw string) (Message, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logger.Warn("Dropping corrupt queue envelope", zap.String("queue", queue), zap.Error(err))
		q.client.LRem(context.Background(), processingKey(queue), 1, raw)
		return Message{}, false
	}

	return Message{
		ID:            env.ID,
		Body:          []byte(env.Body),
		ReceiptHandle: raw,
	}, true
}

func (q *RedisQueue) Delete(ctx context.Context, queue string, receiptHandle string) error {
	removed, err := q.client.LRem(ctx, processingKey(queue), 1, receiptHandle).Result()
	if err != nil {
		return faults.Transientf("delete from %s failed: %v", queue, err)
	}
	if removed == 0 {
		logger.Warn("Receipt handle not found on processing list", zap.String("queue", queue))
	}
	return nil
}

// Release moves a single in-flight message back to the pending list. The
// receipt handle is the raw envelope, so it re-enters the queue intact.
func (q *RedisQueue) Release(ctx context.Context, queue string, receiptHandle string) error {
	removed, err := q.client.LRem(ctx, processingKey(queue), 1, receiptHandle).Result()
	if err != nil {
		return faults.Transientf("release to %s failed: %v", queue, err)
	}
	if removed == 0 {
		logger.Warn("Receipt handle not found on processing list", zap.String("queue", queue))
		return nil
	}

	if err := q.client.LPush(ctx, pendingKey(queue), receiptHandle).Err(); err != nil {
		return faults.Transientf("release to %s failed: %v", queue, err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context, queue string) (int64, error) {
	depth, err := q.client.LLen(ctx, pendingKey(queue)).Result()
	if err != nil {
		return 0, faults.Transientf("depth of %s failed: %v", queue, err)
	}
	return depth, nil
}

// Requeue moves any messages stranded on the processing list back onto the
// pending list. Called once at startup before consumers begin.
func (q *RedisQueue) Requeue(ctx context.Context, queue string) (int64, error) {
	var moved int64
	for {
		_, err := q.client.LMove(ctx, processingKey(queue), pendingKey(queue), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, faults.Transientf("requeue of %s failed: %v", queue, err)
		}
		moved++
	}
}
