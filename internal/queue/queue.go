// Package queue provides the durable message queue the pipeline rides on.
// Delivery is at-least-once: a message is only removed once the consumer
// explicitly deletes it by receipt handle.
package queue

import (
	"context"
	"time"
)

type Message struct {
	ID            string `json:"id"`
	Body          []byte `json:"body"`
	ReceiptHandle string `json:"-"`
}

type Queue interface {
	Enqueue(ctx context.Context, queue string, payload []byte) (string, error)
	Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, queue string, receiptHandle string) error
	// Release returns an in-flight message to the pending queue so a later
	// receive redelivers it without waiting for a process restart.
	Release(ctx context.Context, queue string, receiptHandle string) error
	Depth(ctx context.Context, queue string) (int64, error)
}
