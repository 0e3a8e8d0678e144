package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// hsetIfFieldEquals compares one hash field and applies the updates in a
// single server-side step so concurrent resolvers cannot both win.
var hsetIfFieldEquals = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current ~= ARGV[2] then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// RedisStore implements Store on top of a Redis connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance at url (redis:// form) and
// verifies the connection before returning.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// HSet writes the given fields into the hash at key.
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return s.client.HSet(ctx, key, args).Err()
}

// HGetAll reads all fields of the hash at key.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// HSetIfFieldEquals conditionally updates the hash at key via a Lua script.
func (s *RedisStore) HSetIfFieldEquals(ctx context.Context, key, field, expect string, updates map[string]string) (bool, error) {
	argv := make([]interface{}, 0, 2+2*len(updates))
	argv = append(argv, field, expect)
	for k, v := range updates {
		argv = append(argv, k, v)
	}
	n, err := hsetIfFieldEquals.Run(ctx, s.client, []string{key}, argv...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Expire sets the time-to-live of key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// LPush prepends value to the list at key.
func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	return s.client.LPush(ctx, key, value).Err()
}

// LTrim trims the list at key to [start, stop].
func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

// LRange reads [start, stop] of the list at key.
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

// Get reads the string value at key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// Set writes the string value at key.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Keys lists keys matching the glob pattern.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}

// SlidingWindowAdmit runs the evict-add-count sequence in a transaction
// pipeline. When the post-add cardinality exceeds maxCalls the just-added
// member is removed before denying, so no interleaving admits more than
// maxCalls per window.
func (s *RedisStore) SlidingWindowAdmit(ctx context.Context, key string, now time.Time, window time.Duration, maxCalls int) (bool, error) {
	nowScore := float64(now.UnixNano()) / float64(time.Second)
	cutoff := nowScore - window.Seconds()
	member := strconv.FormatFloat(nowScore, 'f', 9, 64) + ":" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 9, 64))
	pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if int(card.Val()) > maxCalls {
		if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Publish sends payload on the named pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
