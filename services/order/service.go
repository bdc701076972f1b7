package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"reviewhub/pkg/db/option"
	"reviewhub/pkg/db/pagination"
	"reviewhub/pkg/errutil"
	"reviewhub/pkg/gen"
	"reviewhub/pkg/identity"
	"reviewhub/pkg/repository"
	"reviewhub/pkg/sequence"
	"reviewhub/services/review"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MaxReviewsPerOrder = 500
	defaultPageLimit   = 10
	maxPageLimit       = 250
)

type Service struct {
	db     *gorm.DB
	ids    gen.IDGenerator
	seq    sequence.Generator
	orders repository.Repository[review.Order]
	tasks  repository.Repository[review.ReviewTask]

	overview singleflight.Group
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB  *gorm.DB
	IDs gen.IDGenerator
	Seq sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		ids:    p.IDs,
		seq:    p.Seq,
		orders: repository.ProvideStore[review.Order](p.DB),
		tasks:  repository.ProvideStore[review.ReviewTask](p.DB),
		now:    time.Now,
	}
}

type CreateOrderRequest struct {
	BusinessName string   `json:"business_name" binding:"required,max=200"`
	BusinessURL  string   `json:"business_url" binding:"required,url"`
	TotalReviews int      `json:"total_reviews" binding:"required,gte=1,lte=500"`
	Commission   float64  `json:"commission" binding:"gte=0"`
	Guidelines   []string `json:"guidelines" binding:"max=20,dive,max=500"`
}

func (r *CreateOrderRequest) normalize() error {
	r.BusinessName = strings.TrimSpace(r.BusinessName)
	r.BusinessURL = strings.TrimSpace(r.BusinessURL)

	var details []errutil.Detail
	if r.BusinessName == "" {
		details = append(details, errutil.Detail{Field: "business_name", Message: "required"})
	}
	if r.BusinessURL == "" {
		details = append(details, errutil.Detail{Field: "business_url", Message: "required"})
	}
	if r.TotalReviews < 1 || r.TotalReviews > MaxReviewsPerOrder {
		details = append(details, errutil.Detail{Field: "total_reviews", Message: "must be between 1 and 500"})
	}
	if r.Commission < 0 {
		details = append(details, errutil.Detail{Field: "commission", Message: "must not be negative"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid order", nil, errutil.WithDetails(details...))
	}

	guidelines := make([]string, 0, len(r.Guidelines))
	for _, g := range r.Guidelines {
		if g = strings.TrimSpace(g); g != "" {
			guidelines = append(guidelines, g)
		}
	}
	r.Guidelines = guidelines
	return nil
}

// OrderSummary is an order as its owner sees it. Tasks are folded into counts.
type OrderSummary struct {
	*review.Order
	AssignedReviews int     `json:"assigned_reviews"`
	Budget          float64 `json:"budget"`
	Spent           float64 `json:"spent"`
	Progress        float64 `json:"progress"`
}

func summarize(o *review.Order) *OrderSummary {
	s := &OrderSummary{Order: o}
	for _, t := range o.Tasks {
		s.Budget += t.Commission
		switch t.Status {
		case review.TaskAssigned:
			s.AssignedReviews++
		case review.TaskSubmitted:
			s.Spent += t.Commission
		}
	}
	if o.TotalReviews > 0 {
		s.Progress = float64(o.CompletedReviews) / float64(o.TotalReviews) * 100
	}
	o.Tasks = nil
	return s
}

type ListOrdersRequest struct {
	pagination.Pagination
	Search string `form:"search"`
	Status string `form:"status"`
}

type ListOrdersResponse struct {
	Data     []*OrderSummary      `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Dashboard struct {
	ActiveOrders     int64   `json:"active_orders"`
	DeliveredReviews int64   `json:"delivered_reviews"`
	TotalOrders      int64   `json:"total_orders"`
	TotalSpent       float64 `json:"total_spent"`
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func currentUser(ctx context.Context) (*identity.User, error) {
	u, ok := identity.FromContext(ctx)
	if !ok {
		return nil, errutil.Unauthorized("sign in required", nil)
	}
	return u, nil
}

func parseStatus(s string) (review.OrderStatus, error) {
	switch st := review.OrderStatus(s); st {
	case "", review.OrderPending, review.OrderInProgress, review.OrderCompleted, review.OrderCancelled:
		return st, nil
	}
	return "", errutil.BadRequest("unknown order status", nil,
		errutil.WithDetails(errutil.Detail{Field: "status", Message: "must be one of pending, in-progress, completed, cancelled"}))
}

// CreateOrder stores a new order and one pending task per requested review.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderSummary, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}

	zapLog := logger(ctx).With(zap.String("client_id", user.ID))

	code, err := s.seq.NextOrderCode(ctx)
	if err != nil {
		zapLog.Error("failed to generate order code", zap.Error(err))
		return nil, errutil.ServiceUnavailable("order code unavailable", err)
	}

	now := s.now().UTC()
	order := &review.Order{
		ID:           s.ids.GenerateID().String(),
		Code:         code,
		ClientID:     user.ID,
		BusinessName: req.BusinessName,
		BusinessURL:  req.BusinessURL,
		TotalReviews: req.TotalReviews,
		Status:       review.OrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tasks := make([]*review.ReviewTask, 0, req.TotalReviews)
	for i := 0; i < req.TotalReviews; i++ {
		tasks = append(tasks, &review.ReviewTask{
			ID:         s.ids.GenerateID().String(),
			OrderID:    order.ID,
			Status:     review.TaskPending,
			Commission: req.Commission,
			Guidelines: datatypes.NewJSONSlice(req.Guidelines),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.WithTrx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.tasks.WithTrx(tx).BatchCreate(ctx, tasks)
	})
	if err != nil {
		zapLog.Error("failed to create order", zap.String("code", code), zap.Error(err))
		return nil, errutil.Internal("failed to create order", err)
	}

	zapLog.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("code", code),
		zap.Int("total_reviews", order.TotalReviews),
	)

	order.Tasks = tasks
	return summarize(order), nil
}

// ListOrders pages through the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) (*ListOrdersResponse, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, user.ID, req)
}

// list pages through orders, restricted to clientID unless it is empty.
func (s *Service) list(ctx context.Context, clientID string, req ListOrdersRequest) (*ListOrdersResponse, error) {
	status, err := parseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	opts := []option.QueryOption{
		option.WithAnyLike(strings.TrimSpace(req.Search), "business_name", "code"),
		option.WithPreload("Tasks"),
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: limit}),
	}
	if status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Operator: option.EQ, Value: status}))
	}

	orders, err := s.orders.Find(ctx, &review.Order{ClientID: clientID}, opts...)
	if err != nil {
		logger(ctx).Error("failed to list orders", zap.String("client_id", clientID), zap.Error(err))
		return nil, errutil.Internal("failed to list orders", err)
	}

	page, info := pagination.BuildCursorPage(orders, limit, func(o *review.Order) pagination.Cursor {
		return pagination.Cursor{
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        o.ID,
		}
	})

	data := make([]*OrderSummary, 0, len(page))
	for _, o := range page {
		data = append(data, summarize(o))
	}
	return &ListOrdersResponse{Data: data, PageInfo: info}, nil
}

func (s *Service) findOwned(ctx context.Context, clientID, orderID string) (*review.Order, error) {
	order, err := s.orders.FindOne(ctx, &review.Order{ID: orderID, ClientID: clientID}, option.WithPreload("Tasks"))
	if err != nil {
		logger(ctx).Error("failed to get order", zap.String("order_id", orderID), zap.Error(err))
		return nil, errutil.Internal("failed to get order", err)
	}
	if order == nil {
		return nil, errutil.NotFound("order not found", nil)
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderSummary, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.findOwned(ctx, user.ID, orderID)
	if err != nil {
		return nil, err
	}
	return summarize(order), nil
}

// CancelOrder closes an open order. Tasks already submitted stay submitted;
// the remaining ones drop off the intern board with the order.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*OrderSummary, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&review.Order{}).
		Where("id = ? AND client_id = ? AND status IN ?", orderID, user.ID, review.OpenOrderStatuses).
		Updates(map[string]any{"status": review.OrderCancelled, "updated_at": s.now().UTC()})
	if res.Error != nil {
		logger(ctx).Error("failed to cancel order", zap.String("order_id", orderID), zap.Error(res.Error))
		return nil, errutil.Internal("failed to cancel order", res.Error)
	}

	order, err := s.findOwned(ctx, user.ID, orderID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, errutil.UnprocessableEntity("only pending or in-progress orders can be cancelled", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(order.Status)}))
	}

	logger(ctx).Info("order cancelled", zap.String("order_id", orderID), zap.String("client_id", user.ID))
	return summarize(order), nil
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	var out Dashboard
	db := s.db.WithContext(ctx)

	err = db.Model(&review.Order{}).Where("client_id = ?", user.ID).Count(&out.TotalOrders).Error
	if err == nil {
		err = db.Model(&review.Order{}).
			Where("client_id = ? AND status IN ?", user.ID, review.OpenOrderStatuses).
			Count(&out.ActiveOrders).Error
	}
	if err == nil {
		err = db.Model(&review.ReviewTask{}).
			Joins("JOIN orders ON orders.id = review_tasks.order_id").
			Where("orders.client_id = ? AND review_tasks.status = ?", user.ID, review.TaskSubmitted).
			Count(&out.DeliveredReviews).Error
	}
	if err == nil {
		err = db.Model(&review.ReviewTask{}).
			Select("COALESCE(SUM(review_tasks.commission), 0)").
			Joins("JOIN orders ON orders.id = review_tasks.order_id").
			Where("orders.client_id = ?", user.ID).
			Where("orders.status <> ? OR review_tasks.status = ?", review.OrderCancelled, review.TaskSubmitted).
			Scan(&out.TotalSpent).Error
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logger(ctx).Error("failed to build dashboard", zap.String("client_id", user.ID), zap.Error(err))
		return nil, errutil.Internal("failed to build dashboard", err)
	}

	return &out, nil
}
