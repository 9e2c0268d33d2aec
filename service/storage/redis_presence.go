package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: presence:<uid>
// Value: gateway handle string, TTL controls the online validity period
// so a crashed gateway's entries age out without an explicit disconnect.
func presenceKey(uid string) string { return "presence:" + uid }

// Atomic compare-and-delete: remove the key only while it still holds
// the caller's handle.
// KEYS[1] = presence key
// ARGV[1] = expected handle
// Returns 1 when deleted, 0 otherwise.
const luaClearIfCurrent = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisConf struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type redisPresence struct {
	rdb   *redis.Client
	clear *redis.Script
}

// NewRedisPresence connects and pings; presence is load-bearing, so a
// dead redis fails startup instead of limping along.
func NewRedisPresence(c RedisConf) (PresenceStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "presence: redis ping")
	}
	return &redisPresence{rdb: rdb, clear: redis.NewScript(luaClearIfCurrent)}, nil
}

func (p *redisPresence) SetOnline(ctx context.Context, uid string, h Handle, ttl time.Duration) error {
	return p.rdb.Set(ctx, presenceKey(uid), h.String(), ttl).Err()
}

func (p *redisPresence) Lookup(ctx context.Context, uid string) (Handle, bool, error) {
	val, err := p.rdb.Get(ctx, presenceKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, err
	}
	return ParseHandle(val), true, nil
}

func (p *redisPresence) LookupMany(ctx context.Context, uids []string) (map[string]Handle, error) {
	out := make(map[string]Handle, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = presenceKey(uid)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		out[uids[i]] = ParseHandle(s)
	}
	return out, nil
}

func (p *redisPresence) ClearIfCurrent(ctx context.Context, uid string, h Handle) (bool, error) {
	n, err := p.clear.Run(ctx, p.rdb, []string{presenceKey(uid)}, h.String()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *redisPresence) Refresh(ctx context.Context, uid string, ttl time.Duration) error {
	// EXPIRE on a missing key returns 0, which is fine
	return p.rdb.Expire(ctx, presenceKey(uid), ttl).Err()
}

func (p *redisPresence) Close() error {
	return p.rdb.Close()
}
