package order

import (
	"context"
	"time"

	"reviewhub/pkg/errutil"
	"reviewhub/services/review"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const overviewTimeout = 10 * time.Second

type Overview struct {
	OrdersByStatus map[review.OrderStatus]int64 `json:"orders_by_status"`
	TotalOrders    int64                        `json:"total_orders"`
	SubmittedTasks int64                        `json:"submitted_tasks"`
	AssignedTasks  int64                        `json:"assigned_tasks"`
	ActiveInterns  int64                        `json:"active_interns"`
	PendingPayout  float64                      `json:"pending_payout"`
}

// ListAllOrders pages through every client's orders.
func (s *Service) ListAllOrders(ctx context.Context, req ListOrdersRequest) (*ListOrdersResponse, error) {
	if _, err := currentUser(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx, "", req)
}

// Overview aggregates marketplace totals. Concurrent callers share one
// computation, which runs detached from any single caller's cancellation.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	if _, err := currentUser(ctx); err != nil {
		return nil, err
	}

	v, err, _ := s.overview.Do("overview", func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), overviewTimeout)
		defer cancel()
		return s.buildOverview(sctx)
	})
	if err != nil {
		logger(ctx).Error("failed to build overview", zap.Error(err))
		return nil, errutil.Internal("failed to build overview", err)
	}

	shared := v.(*Overview)
	out := *shared
	out.OrdersByStatus = make(map[review.OrderStatus]int64, len(shared.OrdersByStatus))
	for k, n := range shared.OrdersByStatus {
		out.OrdersByStatus[k] = n
	}
	return &out, nil
}

func (s *Service) buildOverview(ctx context.Context) (*Overview, error) {
	db := s.db.WithContext(ctx)
	out := &Overview{
		OrdersByStatus: map[review.OrderStatus]int64{
			review.OrderPending:    0,
			review.OrderInProgress: 0,
			review.OrderCompleted:  0,
			review.OrderCancelled:  0,
		},
	}

	var byStatus []struct {
		Status review.OrderStatus
		Count  int64
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.WithContext(gctx).Model(&review.Order{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&byStatus).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).Model(&review.ReviewTask{}).
			Where("status = ?", review.TaskSubmitted).
			Count(&out.SubmittedTasks).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).Model(&review.ReviewTask{}).
			Where("status = ?", review.TaskAssigned).
			Count(&out.AssignedTasks).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).Model(&review.ReviewTask{}).
			Where("status = ? AND intern_id IS NOT NULL", review.TaskAssigned).
			Distinct("intern_id").
			Count(&out.ActiveInterns).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).Model(&review.ReviewTask{}).
			Select("COALESCE(SUM(commission), 0)").
			Where("status = ?", review.TaskSubmitted).
			Scan(&out.PendingPayout).Error
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, row := range byStatus {
		out.OrdersByStatus[row.Status] = row.Count
		out.TotalOrders += row.Count
	}
	return out, nil
}
