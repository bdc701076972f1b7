package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
	minio *minio.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Minio *minio.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
		minio: p.Minio,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

func check(name string, err error) Dependency {
	if err != nil {
		return Dependency{Name: name, Status: StatusUnhealthy, Message: err.Error()}
	}
	return Dependency{Name: name, Status: StatusHealthy, Message: "OK"}
}

// Readiness answers 503 when any configured dependency is down.
func (h *health) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	deps := make([]Dependency, 0, 3)

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		deps = append(deps, check(h.db.Name(), err))
	}

	if h.redis != nil {
		deps = append(deps, check("redis", h.redis.Ping(ctx).Err()))
	}

	if h.minio != nil {
		var err error
		if h.minio.IsOffline() {
			err = errMinioOffline
		}
		deps = append(deps, check("minio", err))
	}

	out := &Health{Status: StatusHealthy, Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, d := range deps {
		if d.Status != StatusHealthy {
			out.Status = StatusUnhealthy
			out.Message = d.Name + " unavailable"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, out)
}
