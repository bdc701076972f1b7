package review

import (
	"context"

	"reviewhub/pkg/config"
	"reviewhub/pkg/server"
	reviewtask "reviewhub/services/review/task"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the intern board API.
var Module = fx.Module("review.service",
	fx.Provide(
		NewStore,
		NewProofStorage,
		NewSessions,
		NewController,
		NewHandler,
		provideMetrics,
	),
	fx.Invoke(migrate, registerRoutes),
)

// Worker handles the review background tasks.
var Worker = fx.Module("review.worker",
	fx.Provide(NewStore),
	fx.Invoke(migrate, registerTaskHandlers),
)

func provideMetrics() (*Metrics, error) {
	return NewMetrics(prometheus.DefaultRegisterer)
}

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("failed to migrate review tables", zap.Error(err))
		return err
	}
	return nil
}

func registerRoutes(api *server.API, h *Handler) {
	h.Register(api)
}

func registerTaskHandlers(mux *asynq.ServeMux, store Store) {
	reviewtask.NewHandler(func(ctx context.Context, orderID string) error {
		return Reconcile(ctx, store, orderID)
	}).Register(mux)
}
