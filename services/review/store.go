package review

import (
	"context"
	"errors"
	"time"

	"reviewhub/pkg/db/option"
	"reviewhub/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var errTaskNotAssigned = errors.New("task is not assigned to this intern")

// Store is the order/task store the lifecycle controller works against.
type Store interface {
	// ListOpenOrders returns pending and in-progress orders with their tasks,
	// newest first.
	ListOpenOrders(ctx context.Context) ([]*Order, error)
	// GetOrder returns the order with its tasks, or nil when it does not exist.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// ClaimTask assigns taskID to internID only if nobody holds it yet. It
	// reports false when the row was not updated.
	ClaimTask(ctx context.Context, taskID, internID string, at time.Time) (bool, error)
	InsertProof(ctx context.Context, proof *ReviewProof) error
	MarkTaskSubmitted(ctx context.Context, taskID, internID string, at time.Time) error
	// ListSubmittedTasks returns the intern's submitted tasks with their order
	// loaded, most recently completed first.
	ListSubmittedTasks(ctx context.Context, internID string) ([]*ReviewTask, error)
	// SyncOrderProgress recomputes completed_reviews from the submitted task
	// count and the status that goes with it.
	SyncOrderProgress(ctx context.Context, orderID string) (*Order, error)
}

type gormStore struct {
	db     *gorm.DB
	orders repository.Repository[Order]
	tasks  repository.Repository[ReviewTask]
	proofs repository.Repository[ReviewProof]
}

type StoreParams struct {
	fx.In
	DB *gorm.DB
}

func NewStore(p StoreParams) Store {
	return &gormStore{
		db:     p.DB,
		orders: repository.ProvideStore[Order](p.DB),
		tasks:  repository.ProvideStore[ReviewTask](p.DB),
		proofs: repository.ProvideStore[ReviewProof](p.DB),
	}
}

func withTasks() option.QueryOption {
	return option.WithPreload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	})
}

func (s *gormStore) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	return s.orders.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: OpenOrderStatuses}),
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
		withTasks(),
	)
}

func (s *gormStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.FindOne(ctx, &Order{ID: orderID}, withTasks())
}

func (s *gormStore) ClaimTask(ctx context.Context, taskID, internID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ReviewTask{}).
		Where("id = ? AND intern_id IS NULL AND status = ?", taskID, TaskPending).
		Updates(map[string]any{
			"intern_id":   internID,
			"status":      TaskAssigned,
			"assigned_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) InsertProof(ctx context.Context, proof *ReviewProof) error {
	return s.proofs.Create(ctx, proof)
}

func (s *gormStore) MarkTaskSubmitted(ctx context.Context, taskID, internID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ReviewTask{}).
		Where("id = ? AND intern_id = ? AND status = ?", taskID, internID, TaskAssigned).
		Updates(map[string]any{
			"status":       TaskSubmitted,
			"completed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errTaskNotAssigned
	}
	return nil
}

func (s *gormStore) ListSubmittedTasks(ctx context.Context, internID string) ([]*ReviewTask, error) {
	return s.tasks.Find(ctx, nil,
		option.WithJoins("Order"),
		option.ApplyOperator(option.Condition{Field: "review_tasks.intern_id", Operator: option.EQ, Value: internID}),
		option.ApplyOperator(option.Condition{Field: "review_tasks.status", Operator: option.EQ, Value: TaskSubmitted}),
		option.WithSortBy(option.QuerySortBy{SortBy: "completed_at", OrderBy: "DESC"}),
	)
}

func (s *gormStore) SyncOrderProgress(ctx context.Context, orderID string) (*Order, error) {
	var out *Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders := s.orders.WithTrx(tx)

		order, err := orders.FindOne(ctx, &Order{ID: orderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if order == nil {
			return gorm.ErrRecordNotFound
		}
		out = order

		// cancelled and completed orders keep their state
		if !order.Status.Open() {
			return nil
		}

		submitted, err := s.tasks.WithTrx(tx).Count(ctx, &ReviewTask{OrderID: orderID, Status: TaskSubmitted})
		if err != nil {
			return err
		}

		completed := int(submitted)
		if completed > order.TotalReviews {
			completed = order.TotalReviews
		}
		status := order.DeriveStatus(completed)
		if completed == 0 && order.TotalReviews > 0 {
			status = order.Status
		}

		if completed == order.CompletedReviews && status == order.Status {
			return nil
		}

		if err := orders.Update(ctx, orderID, map[string]any{
			"completed_reviews": completed,
			"status":            status,
		}); err != nil {
			return err
		}

		order.CompletedReviews = completed
		order.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
