package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	redisTaskNamespace = "tasks:"
	redisScanCount     = 100
	redisMaxTxRetries  = 5
)

// RedisStore keeps one JSON value per conversation under
// <prefix>tasks:<id>. Conditional writes use WATCH/MULTI so concurrent
// webhook upserts are never clobbered.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	tracer trace.Tracer
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store using keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if client == nil {
		panic("schedule: redis client required")
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		tracer: otel.Tracer("helpscout.internal.schedule.redis"),
	}
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + redisTaskNamespace + conversationID
}

func (s *RedisStore) Put(ctx context.Context, item ScheduledReopen) error {
	id, err := NormalizeID(item.ConversationID)
	if err != nil {
		return err
	}
	item.ConversationID = id

	ctx, span := s.tracer.Start(ctx, "schedule.redis.put", trace.WithAttributes(attribute.String("conversation_id", id)))
	defer span.End()

	data, err := json.Marshal(toRecord(item))
	if err != nil {
		return fmt.Errorf("schedule: marshal %s: %w", id, err)
	}
	if err := s.redis.Set(ctx, s.key(id), data, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: put %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) (*ScheduledReopen, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.redis.get")
	defer span.End()

	item, err := s.read(ctx, s.redis, s.key(conversationID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	return item, nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "schedule.redis.delete")
	defer span.End()

	if err := s.redis.Del(ctx, s.key(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: delete %s: %w", conversationID, err)
	}
	return nil
}

func (s *RedisStore) DeleteIfDue(ctx context.Context, conversationID string, dueAt time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.redis.delete_if_due")
	defer span.End()

	deleted, err := s.compareAndSwap(ctx, conversationID, dueAt, func(pipe redis.Pipeliner, key string, _ ScheduledReopen) error {
		return pipe.Del(ctx, key).Err()
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("schedule: delete if due %s: %w", conversationID, err)
	}
	return deleted, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, conversationID string, dueAt time.Time, f Failure) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.redis.record_failure")
	defer span.End()

	updated, err := s.compareAndSwap(ctx, conversationID, dueAt, func(pipe redis.Pipeliner, key string, current ScheduledReopen) error {
		data, err := json.Marshal(toRecord(current.apply(f)))
		if err != nil {
			return err
		}
		return pipe.Set(ctx, key, data, 0).Err()
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("schedule: record failure %s: %w", conversationID, err)
	}
	return updated, nil
}

// compareAndSwap runs write inside MULTI when the stored due date equals
// dueAt, retrying when the watched key changes underneath it.
func (s *RedisStore) compareAndSwap(ctx context.Context, conversationID string, dueAt time.Time, write func(redis.Pipeliner, string, ScheduledReopen) error) (bool, error) {
	key := s.key(conversationID)
	want := DueMillis(dueAt)

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		applied := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.read(ctx, tx, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if DueMillis(current.DueAt) != want {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return write(pipe, key, *current)
			})
			if err == nil {
				applied = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return applied, nil
	}
	return false, redis.TxFailedErr
}

// Each walks the namespace with SCAN so large stores are never loaded at once.
// Keys deleted between SCAN and GET are skipped.
func (s *RedisStore) Each(ctx context.Context, fn func(ScheduledReopen) error) error {
	ctx, span := s.tracer.Start(ctx, "schedule.redis.each")
	defer span.End()

	iter := s.redis.Scan(ctx, 0, s.prefix+redisTaskNamespace+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		item, err := s.read(ctx, s.redis, iter.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return err
		}
		if err := fn(*item); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("schedule: scan: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c redisGetter, key string) (*ScheduledReopen, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: get %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("schedule: decode %s: %w", key, err)
	}
	if rec.ConversationID == "" {
		rec.ConversationID = strings.TrimPrefix(key, s.prefix+redisTaskNamespace)
	}
	item := rec.schedule()
	return &item, nil
}
