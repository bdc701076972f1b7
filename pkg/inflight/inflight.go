// Package inflight rejects a second operation on a key while the first one is
// still outstanding. Keys are released explicitly; the redis guard also expires
// them after a TTL so a crashed holder cannot wedge a key forever.
package inflight

import (
	"context"
	"errors"
	"sync"

	"reviewhub/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("inflight: operation already in progress")

var Module = fx.Module("inflight", fx.Provide(New))

type Guard interface {
	// Acquire marks key as busy. The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Params struct {
	fx.In

	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func New(p Params) Guard {
	if p.Config.Review.Guard == "redis" && p.Redis != nil {
		// hold keys a bit past the operation deadline
		ttl := p.Config.Review.OperationTimeout + p.Config.Review.OperationTimeout/2
		zap.L().Info("using redis inflight guard", zap.Duration("ttl", ttl))
		return NewRedisGuard(p.Redis, ttl)
	}
	return NewMemoryGuard()
}

type MemoryGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{busy: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.busy[key]; ok {
		return nil, ErrBusy
	}
	g.busy[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether key is currently held.
func (g *MemoryGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[key]
	return ok
}
