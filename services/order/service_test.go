package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reviewhub/pkg/errutil"
	"reviewhub/pkg/identity"
	"reviewhub/services/review"
	"reviewhub/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) GenerateID() snowflake.ID {
	return snowflake.ID(1000 + c.n.Add(1))
}

type fakeSeq struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeSeq) NextOrderCode(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.n++
	return fmt.Sprintf("ORD-261018-%03d", f.n), nil
}

type fixture struct {
	db  *gorm.DB
	seq *fakeSeq
	svc *Service
	at  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, review.Models()...)
	f := &fixture{
		db:  db,
		seq: &fakeSeq{},
		at:  time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceParams{DB: db, IDs: &counterIDs{}, Seq: f.seq})
	// each created order is one minute newer than the previous one
	f.svc.now = func() time.Time {
		f.at = f.at.Add(time.Minute)
		return f.at
	}
	return f
}

func asClient(id string) context.Context {
	return identity.WithUser(context.Background(), &identity.User{ID: id, Role: identity.RoleClient})
}

func asAdmin() context.Context {
	return identity.WithUser(context.Background(), &identity.User{ID: "admin-1", Role: identity.RoleAdmin})
}

func validRequest(name string, total int) CreateOrderRequest {
	return CreateOrderRequest{
		BusinessName: name,
		BusinessURL:  "https://maps.example.com/" + name,
		TotalReviews: total,
		Commission:   5,
		Guidelines:   []string{" Mention the staff ", "", "Add a photo"},
	}
}

func (f *fixture) create(t *testing.T, client, name string, total int) *OrderSummary {
	t.Helper()
	out, err := f.svc.CreateOrder(asClient(client), validRequest(name, total))
	require.NoError(t, err)
	return out
}

func (f *fixture) setTask(t *testing.T, orderID string, n int, status review.TaskStatus, intern string) {
	t.Helper()
	var tasks []review.ReviewTask
	require.NoError(t, f.db.Where("order_id = ?", orderID).Order("id").Limit(n).Find(&tasks).Error)
	require.Len(t, tasks, n)
	for _, tk := range tasks {
		require.NoError(t, f.db.Model(&review.ReviewTask{}).Where("id = ?", tk.ID).
			Updates(map[string]any{"status": status, "intern_id": intern}).Error)
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	out := f.create(t, "client-1", "Bakery", 3)
	require.Equal(t, "ORD-261018-001", out.Code)
	require.Equal(t, review.OrderPending, out.Status)
	require.Equal(t, "client-1", out.ClientID)
	require.Equal(t, 15.0, out.Budget)
	require.Zero(t, out.Progress)
	require.Nil(t, out.Tasks)

	var tasks []review.ReviewTask
	require.NoError(t, f.db.Where("order_id = ?", out.ID).Find(&tasks).Error)
	require.Len(t, tasks, 3)
	for _, tk := range tasks {
		require.Equal(t, review.TaskPending, tk.Status)
		require.Nil(t, tk.InternID)
		require.Equal(t, []string{"Mention the staff", "Add a photo"}, []string(tk.Guidelines))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]CreateOrderRequest{
		"zero reviews":   validRequest("Bakery", 0),
		"too many":       validRequest("Bakery", MaxReviewsPerOrder+1),
		"blank name":     validRequest("  ", 1),
		"negative price": func() CreateOrderRequest { r := validRequest("Bakery", 1); r.Commission = -1; return r }(),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(asClient("client-1"), req)
			require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&review.Order{}).Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, f.seq.n, "no code is spent on invalid orders")
}

func TestCreateOrderRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), validRequest("Bakery", 1))
	require.Equal(t, errutil.StatusUnauthorized, errutil.StatusOf(err))
}

func TestCreateOrderSequenceFailure(t *testing.T) {
	f := newFixture(t)
	f.seq.err = fmt.Errorf("redis down")

	_, err := f.svc.CreateOrder(asClient("client-1"), validRequest("Bakery", 1))
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))
}

func TestListOrdersPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.create(t, "client-1", fmt.Sprintf("Shop %d", i), 1)
	}
	f.create(t, "client-2", "Other", 1)

	ctx := asClient("client-1")
	req := ListOrdersRequest{}
	req.Limit = 2

	var names []string
	for page := 0; page < 5; page++ {
		out, err := f.svc.ListOrders(ctx, req)
		require.NoError(t, err)
		for _, o := range out.Data {
			names = append(names, o.BusinessName)
		}
		if !out.PageInfo.HasMore {
			break
		}
		req.Cursor = out.PageInfo.NextCursor
	}

	require.Equal(t, []string{"Shop 4", "Shop 3", "Shop 2", "Shop 1", "Shop 0"}, names)
}

func TestListOrdersSearchAndStatus(t *testing.T) {
	f := newFixture(t)
	bakery := f.create(t, "client-1", "Bakery", 1)
	f.create(t, "client-1", "Barber", 1)

	ctx := asClient("client-1")

	out, err := f.svc.ListOrders(ctx, ListOrdersRequest{Search: "bak"})
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	require.Equal(t, bakery.ID, out.Data[0].ID)

	out, err = f.svc.ListOrders(ctx, ListOrdersRequest{Search: "ORD-261018-002"})
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	require.Equal(t, "Barber", out.Data[0].BusinessName)

	_, err = f.svc.CancelOrder(ctx, bakery.ID)
	require.NoError(t, err)

	out, err = f.svc.ListOrders(ctx, ListOrdersRequest{Status: string(review.OrderCancelled)})
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	require.Equal(t, bakery.ID, out.Data[0].ID)

	_, err = f.svc.ListOrders(ctx, ListOrdersRequest{Status: "archived"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestGetOrderOwnership(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "client-1", "Bakery", 4)
	f.setTask(t, o.ID, 1, review.TaskSubmitted, "I1")
	f.setTask(t, o.ID, 2, review.TaskAssigned, "I2")
	require.NoError(t, f.db.Model(&review.Order{}).Where("id = ?", o.ID).
		Updates(map[string]any{"completed_reviews": 1, "status": review.OrderInProgress}).Error)

	got, err := f.svc.GetOrder(asClient("client-1"), o.ID)
	require.NoError(t, err)
	require.Equal(t, 25.0, got.Progress)
	require.Equal(t, 20.0, got.Budget)

	_, err = f.svc.GetOrder(asClient("client-2"), o.ID)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "client-1", "Bakery", 2)

	_, err := f.svc.CancelOrder(asClient("client-2"), o.ID)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	got, err := f.svc.CancelOrder(asClient("client-1"), o.ID)
	require.NoError(t, err)
	require.Equal(t, review.OrderCancelled, got.Status)

	_, err = f.svc.CancelOrder(asClient("client-1"), o.ID)
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	active := f.create(t, "client-1", "Bakery", 3)
	cancelled := f.create(t, "client-1", "Barber", 2)
	f.create(t, "client-2", "Other", 1)

	f.setTask(t, active.ID, 2, review.TaskSubmitted, "I1")
	f.setTask(t, cancelled.ID, 1, review.TaskSubmitted, "I2")
	_, err := f.svc.CancelOrder(asClient("client-1"), cancelled.ID)
	require.NoError(t, err)

	d, err := f.svc.Dashboard(asClient("client-1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), d.TotalOrders)
	require.Equal(t, int64(1), d.ActiveOrders)
	require.Equal(t, int64(3), d.DeliveredReviews)
	// 3 tasks on the open order plus the delivered one on the cancelled order
	require.Equal(t, 20.0, d.TotalSpent)
}

func TestAdminOverview(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "client-1", "Bakery", 3)
	b := f.create(t, "client-2", "Barber", 2)
	f.create(t, "client-2", "Cafe", 1)

	f.setTask(t, a.ID, 1, review.TaskSubmitted, "I1")
	f.setTask(t, b.ID, 2, review.TaskAssigned, "I2")
	_, err := f.svc.CancelOrder(asClient("client-1"), a.ID)
	require.NoError(t, err)

	out, err := f.svc.Overview(asAdmin())
	require.NoError(t, err)
	require.Equal(t, int64(3), out.TotalOrders)
	require.Equal(t, int64(2), out.OrdersByStatus[review.OrderPending])
	require.Equal(t, int64(1), out.OrdersByStatus[review.OrderCancelled])
	require.Zero(t, out.OrdersByStatus[review.OrderCompleted])
	require.Equal(t, int64(1), out.SubmittedTasks)
	require.Equal(t, int64(2), out.AssignedTasks)
	require.Equal(t, int64(1), out.ActiveInterns)
	require.Equal(t, 5.0, out.PendingPayout)

	all, err := f.svc.ListAllOrders(asAdmin(), ListOrdersRequest{})
	require.NoError(t, err)
	require.Len(t, all.Data, 3)
}

func TestAdminOverviewIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.create(t, "client-1", "Bakery", 2)

	ctx, cancel := context.WithCancel(asAdmin())
	cancel()

	out, err := f.svc.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), out.TotalOrders)
	require.Equal(t, int64(1), out.OrdersByStatus[review.OrderPending])
}
