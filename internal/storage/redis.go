package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	presencePrefix = "user:presence:"
	sessionsPrefix = "user:sessions:"
	onlineMarker   = "online"
	scanBatch      = 200
)

// KEYS[1]=sessions set, KEYS[2]=presence marker, ARGV[1]=connection id.
// Returns 1 when the set became empty and the marker was removed.
var luaMarkOffline = redis.NewScript(`
  redis.call('SREM', KEYS[1], ARGV[1])
  if redis.call('SCARD', KEYS[1]) == 0 then
    redis.call('DEL', KEYS[1], KEYS[2])
    return 1
  end
  return 0
`)

func presenceKey(userID string) string { return presencePrefix + userID }
func sessionsKey(userID string) string { return sessionsPrefix + userID }

// RedisPresence keeps presence in Redis so every relay process shares it.
type RedisPresence struct {
	client redis.UniversalClient
}

// NewRedisPresence connects to the Redis instance at url
// (redis://[user:pass@]host:port/db).
func NewRedisPresence(url string) (*RedisPresence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	// Presence sits on the connect path, so an unreachable server must fail fast.
	opts.DialTimeout = time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.MaxRetries = 1
	opts.MinRetryBackoff = 50 * time.Millisecond
	opts.MaxRetryBackoff = 200 * time.Millisecond

	return NewRedisPresenceWithClient(redis.NewClient(opts)), nil
}

func NewRedisPresenceWithClient(client redis.UniversalClient) *RedisPresence {
	return &RedisPresence{client: client}
}

func (s *RedisPresence) MarkOnline(ctx context.Context, userID, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, sessionsKey(userID), connID)
		pipe.Set(ctx, presenceKey(userID), onlineMarker, 0)
		return nil
	})
	return errors.Wrapf(err, "mark %s online", userID)
}

func (s *RedisPresence) MarkOffline(ctx context.Context, userID, connID string) (bool, error) {
	n, err := luaMarkOffline.Run(ctx, s.client, []string{sessionsKey(userID), presenceKey(userID)}, connID).Int()
	if err != nil {
		return false, errors.Wrapf(err, "mark %s offline", userID)
	}
	return n == 1, nil
}

func (s *RedisPresence) ForceOffline(ctx context.Context, userID string) error {
	err := s.client.Del(ctx, presenceKey(userID), sessionsKey(userID)).Err()
	return errors.Wrapf(err, "force %s offline", userID)
}

func (s *RedisPresence) ListOnline(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var users []string
	err := s.scan(ctx, presencePrefix+"*", func(keys []string) error {
		users = appendUserIDs(users, seen, keys)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list online users")
	}
	return users, nil
}

func (s *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check %s online", userID)
	}
	return n == 1, nil
}

func (s *RedisPresence) Sessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, sessionsKey(userID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list %s sessions", userID)
	}
	return ids, nil
}

func (s *RedisPresence) WipeAll(ctx context.Context) error {
	for _, prefix := range []string{presencePrefix, sessionsPrefix} {
		err := s.scan(ctx, prefix+"*", func(keys []string) error {
			return s.client.Del(ctx, keys...).Err()
		})
		if err != nil {
			return errors.Wrapf(err, "wipe %s*", prefix)
		}
	}
	return nil
}

func (s *RedisPresence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisPresence) Close() error {
	return s.client.Close()
}

// appendUserIDs adds the user ids behind presence keys not seen before.
// SCAN may return a key more than once.
func appendUserIDs(users []string, seen map[string]struct{}, keys []string) []string {
	for _, k := range keys {
		id := strings.TrimPrefix(k, presencePrefix)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	return users
}

// scan walks keys matching pattern in batches.
func (s *RedisPresence) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
