package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local mode and tests.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[string]map[string]memoryEvent // partition -> sort -> event
	aggregates map[string]Aggregate
}

type memoryEvent struct {
	timestamp int64
	body      []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]map[string]memoryEvent),
		aggregates: make(map[string]Aggregate),
	}
}

func (s *MemoryStore) PutEvent(ctx context.Context, partition, sort string, timestamp int64, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events[partition] == nil {
		s.events[partition] = make(map[string]memoryEvent)
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	s.events[partition][sort] = memoryEvent{timestamp: timestamp, body: stored}
	return nil
}

func (s *MemoryStore) QueryEvents(ctx context.Context, partition string, since time.Time) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events [][]byte
	for _, evt := range s.events[partition] {
		if evt.timestamp >= since.Unix() {
			events = append(events, evt.body)
		}
	}
	return events, nil
}

func (s *MemoryStore) CountEvents(ctx context.Context, partition string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, evt := range s.events[partition] {
		if evt.timestamp >= since.Unix() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) IncrementAggregate(ctx context.Context, metricType, dimension, bucket string, value float64) (Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metricType + ":" + dimension + ":" + bucket
	agg := s.aggregates[key]
	agg.Count++
	agg.Sum += value
	agg.Average = agg.Sum / float64(agg.Count)
	s.aggregates[key] = agg

	return agg, nil
}

func (s *MemoryStore) GetAggregate(ctx context.Context, metricType, dimension, bucket string) (Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aggregates[metricType+":"+dimension+":"+bucket], nil
}
