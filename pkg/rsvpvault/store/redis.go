package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "rsvpvault:"

// RedisStore persists records to Redis. Each namespace uses three keys:
// a hash of record data, a hash of save timestamps, and a sorted set that
// orders keys by first-save sequence.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
	closed atomic.Bool
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller keeps ownership of the
// client; Close does not close it.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedisStore connects to addr and verifies the connection.
// Close releases the connection.
func DialRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	s := NewRedisStore(client, prefix)
	s.owned = true
	return s, nil
}

func (s *RedisStore) dataKey(namespace string) string    { return s.prefix + namespace + ":data" }
func (s *RedisStore) savedKey(namespace string) string   { return s.prefix + namespace + ":saved" }
func (s *RedisStore) orderKey(namespace string) string   { return s.prefix + namespace + ":order" }
func (s *RedisStore) counterKey(namespace string) string { return s.prefix + namespace + ":seq" }

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, namespace, key string, data []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	seq, err := s.client.Incr(ctx, s.counterKey(namespace)).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}

	savedAt := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// NX keeps the first sequence for rewritten records
		pipe.ZAddNX(ctx, s.orderKey(namespace), redis.Z{Score: float64(seq), Member: key})
		pipe.HSet(ctx, s.dataKey(namespace), key, data)
		pipe.HSet(ctx, s.savedKey(namespace), key, savedAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	data, err := s.client.HGet(ctx, s.dataKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, namespace string) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	members, err := s.client.ZRangeWithScores(ctx, s.orderKey(namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if len(members) == 0 {
		return []Info{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = memberString(m.Member)
	}

	data, err := s.client.HMGet(ctx, s.dataKey(namespace), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list record data: %w", err)
	}
	saved, err := s.client.HMGet(ctx, s.savedKey(namespace), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list record timestamps: %w", err)
	}

	infos := make([]Info, 0, len(keys))
	for i, key := range keys {
		info := Info{
			Namespace: namespace,
			Key:       key,
			Sequence:  int64(members[i].Score),
		}
		if v, ok := data[i].(string); ok {
			info.Size = int64(len(v))
		}
		if v, ok := saved[i].(string); ok {
			info.SavedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func memberString(member any) string {
	switch v := member.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
