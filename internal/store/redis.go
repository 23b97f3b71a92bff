package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// RedisStore keeps raw events as plain values indexed by a per-partition
// sorted set (score = event timestamp) and aggregates as hashes updated with
// HINCRBY/HINCRBYFLOAT inside a MULTI, so concurrent folds never lose
// updates.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func eventKey(partition, sort string) string {
	return fmt.Sprintf("evt:%s:%s", partition, sort)
}

func indexKey(partition string) string {
	return "idx:" + partition
}

func aggregateKey(metricType, dimension, bucket string) string {
	return fmt.Sprintf("agg:%s:%s:%s", metricType, dimension, bucket)
}

func (s *RedisStore) PutEvent(ctx context.Context, partition, sort string, timestamp int64, body []byte) error {
	key := eventKey(partition, sort)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, body, 0)
	pipe.ZAdd(ctx, indexKey(partition), redis.Z{Score: float64(timestamp), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.Transientf("put event %s failed: %v", key, err)
	}

	return nil
}

func (s *RedisStore) QueryEvents(ctx context.Context, partition string, since time.Time) ([][]byte, error) {
	keys, err := s.client.ZRangeByScore(ctx, indexKey(partition), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, faults.Transientf("query %s failed: %v", partition, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, faults.Transientf("query %s failed: %v", partition, err)
	}

	events := make([][]byte, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // expired or deleted between index read and fetch
		}
		events = append(events, []byte(str))
	}

	return events, nil
}

func (s *RedisStore) CountEvents(ctx context.Context, partition string, since time.Time) (int64, error) {
	count, err := s.client.ZCount(ctx, indexKey(partition), strconv.FormatInt(since.Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, faults.Transientf("count %s failed: %v", partition, err)
	}
	return count, nil
}

func (s *RedisStore) IncrementAggregate(ctx context.Context, metricType, dimension, bucket string, value float64) (Aggregate, error) {
	key := aggregateKey(metricType, dimension, bucket)

	pipe := s.client.TxPipeline()
	countCmd := pipe.HIncrBy(ctx, key, "count", 1)
	sumCmd := pipe.HIncrByFloat(ctx, key, "sum", value)
	if _, err := pipe.Exec(ctx); err != nil {
		return Aggregate{}, faults.Transientf("increment aggregate %s failed: %v", key, err)
	}

	agg := Aggregate{
		Count: countCmd.Val(),
		Sum:   sumCmd.Val(),
	}
	agg.Average = agg.Sum / float64(agg.Count)

	return agg, nil
}

func (s *RedisStore) GetAggregate(ctx context.Context, metricType, dimension, bucket string) (Aggregate, error) {
	fields, err := s.client.HGetAll(ctx, aggregateKey(metricType, dimension, bucket)).Result()
	if err != nil {
		return Aggregate{}, faults.Transientf("get aggregate failed: %v", err)
	}
	if len(fields) == 0 {
		return Aggregate{}, nil
	}

	var agg Aggregate
	agg.Count, _ = strconv.ParseInt(fields["count"], 10, 64)
	agg.Sum, _ = strconv.ParseFloat(fields["sum"], 64)
	if agg.Count > 0 {
		agg.Average = agg.Sum / float64(agg.Count)
	}

	return agg, nil
}
