// Package store is the keyed metrics/event store: immutable raw event
// records plus hourly aggregates maintained with atomic increments.
package store

import (
	"context"
	"time"
)

// Aggregate is one hourly rollup. Count and Sum are maintained atomically by
// the store; Average is always Sum/Count as of the returning operation.
type Aggregate struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
}

type Store interface {
	// PutEvent persists an immutable raw record keyed by (partition, sort).
	// Re-put of the same key overwrites with identical content, which keeps
	// duplicate deliveries harmless at the record level.
	PutEvent(ctx context.Context, partition, sort string, timestamp int64, body []byte) error

	QueryEvents(ctx context.Context, partition string, since time.Time) ([][]byte, error)
	CountEvents(ctx context.Context, partition string, since time.Time) (int64, error)

	// IncrementAggregate folds one value into the (metricType, dimension,
	// bucket) rollup: count += 1, sum += value. The increment is atomic on
	// the store side, never read-modify-write from the caller.
	IncrementAggregate(ctx context.Context, metricType, dimension, bucket string, value float64) (Aggregate, error)
	GetAggregate(ctx context.Context, metricType, dimension, bucket string) (Aggregate, error)
}

// Dimension keys used by the stream processor.
const (
	DimensionGlobal = "global"
)

func AgentDimension(agent string) string {
	return "agent:" + agent
}

func ModelDimension(model string) string {
	return "model:" + model
}
