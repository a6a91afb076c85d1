package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// RedisStore implements core.WorkflowStore on Redis. Each workflow is a
// hash holding the encoded record and its checksum; a sorted set indexes
// workflows by update time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default is "promptflow".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed workflow store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "promptflow",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses a redis:// URL and checks connectivity.
func NewRedisStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "invalid redis url").WithCause(err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) workflowKey(id core.WorkflowID) string {
	return s.prefix + ":workflow:" + string(id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":workflows"
}

// Save writes the record and updates the index in one transaction.
func (s *RedisStore) Save(ctx context.Context, rec *core.WorkflowRecord) (core.WorkflowID, error) {
	cp, data, sum, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	id := core.WorkflowID(cp.ID)
	now := time.Now().UTC()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.workflowKey(id),
			"record", data,
			"checksum", sum,
			"updated_at", now.UnixNano(),
		)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: string(id)})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis save failed: %w", err)
	}
	return id, nil
}

// Load reads and verifies a record.
func (s *RedisStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowRecord, error) {
	vals, err := s.client.HMGet(ctx, s.workflowKey(id), "record", "checksum").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, errWorkflowNotFound(id)
	}
	sum, _ := vals[1].(string)
	return decodeRecord([]byte(data), sum)
}

// List returns summaries, most recently updated first.
func (s *RedisStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index read failed: %w", err)
	}
	if len(ids) == 0 {
		return []core.WorkflowSummary{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.workflowKey(core.WorkflowID(id)), "record", "checksum", "updated_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	summaries := make([]core.WorkflowSummary, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 {
			continue
		}
		data, ok := vals[0].(string)
		if !ok {
			continue
		}
		sum, _ := vals[1].(string)
		rec, err := decodeRecord([]byte(data), sum)
		if err != nil {
			continue
		}
		var updated time.Time
		if raw, ok := vals[2].(string); ok {
			if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
				updated = time.Unix(0, ns).UTC()
			}
		}
		summaries = append(summaries, rec.Summarize(updated))
	}
	return summaries, nil
}

// Delete removes a workflow and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id core.WorkflowID) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.workflowKey(id))
		pipe.ZRem(ctx, s.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if del.Val() == 0 {
		return errWorkflowNotFound(id)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
