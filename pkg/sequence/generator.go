package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"reviewhub/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

const OrderPrefix = "ORD"

type Generator interface {
	// NextOrderCode returns a human readable order code such as ORD-261018-00AK7.
	NextOrderCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextOrderCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, OrderPrefix)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := rediskey.BuildDailySequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.ExpireAt(ctx, key, endOfDay).Err()
	}

	suffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return FormatCode(prefix, today, seq, suffix), nil
}

// FormatCode renders seq in base36, padded to three characters.
func FormatCode(prefix, day string, seq int64, suffix string) string {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix)
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
