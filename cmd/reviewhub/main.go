package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"reviewhub/pkg/config"
	"reviewhub/pkg/db"
	"reviewhub/pkg/gen"
	"reviewhub/pkg/health"
	"reviewhub/pkg/httpapi"
	"reviewhub/pkg/inflight"
	"reviewhub/pkg/logger"
	"reviewhub/pkg/middleware"
	"reviewhub/pkg/minio"
	"reviewhub/pkg/otelcol"
	"reviewhub/pkg/profiling"
	"reviewhub/pkg/redis"
	"reviewhub/pkg/sequence"
	"reviewhub/pkg/server"
	"reviewhub/pkg/task"
	"reviewhub/services/order"
	"reviewhub/services/review"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		profiling.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		minio.Client,
		task.Client,
		sequence.Module,
		gen.Module,
		inflight.Module,
		middleware.Module,
		health.Module,
		server.ProvideHTTPServer,
		httpapi.Module,
		review.Module,
		order.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
