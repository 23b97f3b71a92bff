package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAggregates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	agg, err := s.IncrementAggregate(ctx, "satisfaction", DimensionGlobal, "2025-06-01-12", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.Count)
	assert.InDelta(t, 1.0, agg.Average, 1e-9)

	agg, err = s.IncrementAggregate(ctx, "satisfaction", DimensionGlobal, "2025-06-01-12", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.Count)
	assert.InDelta(t, 0.0, agg.Sum, 1e-9)
	assert.InDelta(t, 0.0, agg.Average, 1e-9)

	// Dimensions and buckets do not bleed into each other.
	other, err := s.GetAggregate(ctx, "satisfaction", AgentDimension("artist-advisor"), "2025-06-01-12")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Count)

	nextHour, err := s.GetAggregate(ctx, "satisfaction", DimensionGlobal, "2025-06-01-13")
	require.NoError(t, err)
	assert.Equal(t, int64(0), nextHour.Count)
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutEvent(ctx, "feedback", "a", base.Unix(), []byte("old")))
	require.NoError(t, s.PutEvent(ctx, "feedback", "b", base.Add(time.Hour).Unix(), []byte("new")))

	all, err := s.QueryEvents(ctx, "feedback", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := s.QueryEvents(ctx, "feedback", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []byte("new"), recent[0])

	count, err := s.CountEvents(ctx, "feedback", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStorePutEventOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ts := time.Now().Unix()
	require.NoError(t, s.PutEvent(ctx, "feedback", "k", ts, []byte("v")))
	require.NoError(t, s.PutEvent(ctx, "feedback", "k", ts, []byte("v")))

	count, err := s.CountEvents(ctx, "feedback", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
