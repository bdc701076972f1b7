package task

import (
	"context"
	"encoding/json"
	"fmt"

	"reviewhub/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ReconcileFunc re-derives an order's progress from its submitted tasks.
type ReconcileFunc func(ctx context.Context, orderID string) error

type Handler struct {
	reconcile ReconcileFunc
}

func NewHandler(reconcile ReconcileFunc) *Handler {
	return &Handler{reconcile: reconcile}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ProofSubmitted, h.HandleProofSubmitted)
	mux.HandleFunc(taskname.OrderReconcile, h.HandleOrderReconcile)
}

func (h *Handler) HandleProofSubmitted(ctx context.Context, t *asynq.Task) error {
	var p ProofSubmittedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	zap.L().Info("proof submitted",
		zap.String("order_id", p.OrderID),
		zap.String("task_id", p.TaskID),
		zap.String("intern_id", p.InternID),
		zap.Float64("commission", p.Commission),
	)

	return h.reconcile(ctx, p.OrderID)
}

func (h *Handler) HandleOrderReconcile(ctx context.Context, t *asynq.Task) error {
	var p OrderReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.OrderID == "" {
		return fmt.Errorf("reconcile without order id: %w", asynq.SkipRetry)
	}

	if err := h.reconcile(ctx, p.OrderID); err != nil {
		zap.L().Warn("order reconcile failed", zap.String("order_id", p.OrderID), zap.Error(err))
		return err
	}
	return nil
}
