package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"reviewhub/pkg/config"
	"reviewhub/pkg/db"
	"reviewhub/pkg/logger"
	"reviewhub/pkg/otelcol"
	"reviewhub/pkg/redis"
	"reviewhub/pkg/task"
	"reviewhub/services/review"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		task.Server,
		review.Worker,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
