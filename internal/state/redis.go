package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisStore is the shared/remote Store backend: it lets model health
// survive process restarts and stay visible across gateway replicas, at the
// cost of the round trip every admission check now pays.
//
// Each model's state lives in a Redis hash with two fields: "version" (an
// integer used for CompareAndSwap) and "data" (the JSON-encoded ModelState).
// A set tracks known model names for List.
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps an existing *redis.Client. prefix namespaces all keys this
// store touches (default "freegate:" if empty).
func NewRedis(rdb *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = "freegate:"
	}
	return &redisStore{rdb: rdb, prefix: prefix}
}

func (r *redisStore) modelKey(name string) string { return r.prefix + "model:" + name }
func (r *redisStore) namesKey() string             { return r.prefix + "models" }
func (r *redisStore) fallbackKey() string           { return r.prefix + "fallback_count" }

var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur == false then
  if ARGV[4] == '1' then return -1 end
  cur = '0'
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[3], 'data', ARGV[2])
return 1
`)

var putScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return v
`)

func (r *redisStore) Get(ctx context.Context, name string) (*ModelState, error) {
	res, err := r.rdb.HMGet(ctx, r.modelKey(name), "version", "data").Result()
	if err != nil {
		return nil, fmt.Errorf("state: redis hmget %s: %w", name, err)
	}
	if res[1] == nil {
		return nil, ErrNotFound
	}
	return decodeEnvelope(res[0], res[1])
}

func (r *redisStore) Put(ctx context.Context, name string, s *ModelState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", name, err)
	}
	if err := putScript.Run(ctx, r.rdb, []string{r.modelKey(name)}, string(data)).Err(); err != nil {
		return fmt.Errorf("state: redis put %s: %w", name, err)
	}
	return r.rdb.SAdd(ctx, r.namesKey(), name).Err()
}

func (r *redisStore) CompareAndSwap(ctx context.Context, name string, expected, next *ModelState) error {
	wantVersion := "0"
	if expected != nil {
		wantVersion = fmt.Sprintf("%d", expected.version)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", name, err)
	}
	newVersion := uint64(1)
	mustExist := "0"
	if expected != nil {
		newVersion = expected.version + 1
		mustExist = "1"
	}

	res, err := casScript.Run(ctx, r.rdb, []string{r.modelKey(name)}, wantVersion, string(data), fmt.Sprintf("%d", newVersion), mustExist).Int()
	if err != nil {
		return fmt.Errorf("state: redis cas %s: %w", name, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrConflict
	}
	return r.rdb.SAdd(ctx, r.namesKey(), name).Err()
}

func (r *redisStore) List(ctx context.Context) ([]*ModelState, error) {
	names, err := r.rdb.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("state: redis smembers: %w", err)
	}
	out := make([]*ModelState, 0, len(names))
	for _, name := range names {
		s, err := r.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *redisStore) Delete(ctx context.Context, name string) error {
	if err := r.rdb.Del(ctx, r.modelKey(name)).Err(); err != nil {
		return fmt.Errorf("state: redis del %s: %w", name, err)
	}
	return r.rdb.SRem(ctx, r.namesKey(), name).Err()
}

func (r *redisStore) RecordFallbackUsage(ctx context.Context) (int64, error) {
	n, err := r.rdb.Incr(ctx, r.fallbackKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("state: redis incr fallback: %w", err)
	}
	return n, nil
}

func decodeEnvelope(rawVersion, rawData any) (*ModelState, error) {
	var s ModelState
	dataStr, _ := rawData.(string)
	if err := json.Unmarshal([]byte(dataStr), &s); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	var version uint64
	if versionStr, ok := rawVersion.(string); ok {
		fmt.Sscanf(versionStr, "%d", &version)
	}
	s.version = version
	return &s, nil
}
