package inflight

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"reviewhub/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// only the holder's token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	redisKey := rediskey.BuildInflightKey(key)
	ok, err := g.rdb.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, g.rdb, []string{redisKey}, token).Err(); err != nil {
				zap.L().Warn("failed to release inflight key", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
