package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for local mode and tests. It keeps the
// same receive/delete contract as the Redis implementation: received messages
// stay invisible on a processing set until deleted.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    map[string][]Message
	processing map[string]map[string]Message
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:    make(map[string][]Message),
		processing: make(map[string]map[string]Message),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	body := make([]byte, len(payload))
	copy(body, payload)

	msg := Message{
		ID:            uuid.New().String(),
		Body:          body,
		ReceiptHandle: uuid.New().String(),
	}
	q.pending[queue] = append(q.pending[queue], msg)
	return msg.ID, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)

	for {
		q.mu.Lock()
		if len(q.pending[queue]) > 0 {
			n := maxMessages
			if n > len(q.pending[queue]) {
				n = len(q.pending[queue])
			}

			batch := make([]Message, n)
			copy(batch, q.pending[queue][:n])
			q.pending[queue] = q.pending[queue][n:]

			if q.processing[queue] == nil {
				q.processing[queue] = make(map[string]Message)
			}
			for _, msg := range batch {
				q.processing[queue][msg.ReceiptHandle] = msg
			}

			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) Delete(ctx context.Context, queue string, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing[queue], receiptHandle)
	return nil
}

func (q *MemoryQueue) Release(ctx context.Context, queue string, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.processing[queue][receiptHandle]
	if !ok {
		return nil
	}
	delete(q.processing[queue], receiptHandle)
	q.pending[queue] = append(q.pending[queue], msg)
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.pending[queue])), nil
}

// Redeliver moves all in-flight messages back to pending, simulating an
// at-least-once redelivery after a consumer failure.
func (q *MemoryQueue) Redeliver(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for handle, msg := range q.processing[queue] {
		q.pending[queue] = append(q.pending[queue], msg)
		delete(q.processing[queue], handle)
		n++
	}
	return n
}
