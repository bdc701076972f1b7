package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reviewhub/pkg/config"
	"reviewhub/pkg/gen"
	"reviewhub/pkg/identity"
	"reviewhub/pkg/inflight"
	"reviewhub/pkg/task"
	"reviewhub/pkg/taskname"
	"reviewhub/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// storeMock counts every call and delegates to the embedded Store unless a
// function field overrides the method.
type storeMock struct {
	Store

	calls atomic.Int32

	listFn   func(ctx context.Context) ([]*Order, error)
	getFn    func(ctx context.Context, orderID string) (*Order, error)
	claimFn  func(ctx context.Context, taskID, internID string, at time.Time) (bool, error)
	insertFn func(ctx context.Context, proof *ReviewProof) error
	markFn   func(ctx context.Context, taskID, internID string, at time.Time) error
	syncFn   func(ctx context.Context, orderID string) (*Order, error)
}

func (m *storeMock) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	m.calls.Add(1)
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return m.Store.ListOpenOrders(ctx)
}

func (m *storeMock) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.calls.Add(1)
	if m.getFn != nil {
		return m.getFn(ctx, orderID)
	}
	return m.Store.GetOrder(ctx, orderID)
}

func (m *storeMock) ClaimTask(ctx context.Context, taskID, internID string, at time.Time) (bool, error) {
	m.calls.Add(1)
	if m.claimFn != nil {
		return m.claimFn(ctx, taskID, internID, at)
	}
	return m.Store.ClaimTask(ctx, taskID, internID, at)
}

func (m *storeMock) InsertProof(ctx context.Context, proof *ReviewProof) error {
	m.calls.Add(1)
	if m.insertFn != nil {
		return m.insertFn(ctx, proof)
	}
	return m.Store.InsertProof(ctx, proof)
}

func (m *storeMock) MarkTaskSubmitted(ctx context.Context, taskID, internID string, at time.Time) error {
	m.calls.Add(1)
	if m.markFn != nil {
		return m.markFn(ctx, taskID, internID, at)
	}
	return m.Store.MarkTaskSubmitted(ctx, taskID, internID, at)
}

func (m *storeMock) SyncOrderProgress(ctx context.Context, orderID string) (*Order, error) {
	m.calls.Add(1)
	if m.syncFn != nil {
		return m.syncFn(ctx, orderID)
	}
	return m.Store.SyncOrderProgress(ctx, orderID)
}

type fixture struct {
	db     *gorm.DB
	store  *storeMock
	proofs *MockProofStorage
	events *task.MockEnqueuer
	ctrl   *Controller
}

func newFixture(t *testing.T, configure ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Review.OperationTimeout = 5 * time.Second
	cfg.Review.SessionTTL = time.Minute
	cfg.Review.EnqueueEvents = true
	for _, fn := range configure {
		fn(cfg)
	}

	db := testutil.NewTestDB(t, Models()...)
	mockCtrl := gomock.NewController(t)

	ids, err := gen.NewSnowflakeNode(cfg)
	require.NoError(t, err)
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		store:  &storeMock{Store: NewStore(StoreParams{DB: db})},
		proofs: NewMockProofStorage(mockCtrl),
		events: task.NewMockEnqueuer(mockCtrl),
	}
	f.ctrl = NewController(ControllerParams{
		Config:   cfg,
		Store:    f.store,
		Proofs:   f.proofs,
		Guard:    inflight.NewMemoryGuard(),
		Sessions: NewSessions(cfg),
		IDs:      ids,
		Events:   f.events,
		Metrics:  metrics,
	})
	return f
}

func noEvents(cfg *config.Config) { cfg.Review.EnqueueEvents = false }

func asIntern(id string) context.Context {
	return identity.WithUser(context.Background(), &identity.User{ID: id, Role: identity.RoleIntern})
}

func (f *fixture) seedOrder(t *testing.T, id string, total int, commission float64, createdAt time.Time) {
	t.Helper()

	require.NoError(t, f.db.Create(&Order{
		ID:           id,
		Code:         "ORD-" + id,
		ClientID:     "client-1",
		BusinessName: "Business " + id,
		BusinessURL:  "https://maps.example.com/" + id,
		TotalReviews: total,
		Status:       OrderPending,
		CreatedAt:    createdAt,
	}).Error)

	for i := 0; i < total; i++ {
		require.NoError(t, f.db.Create(&ReviewTask{
			ID:         fmt.Sprintf("%s-t%d", id, i),
			OrderID:    id,
			Status:     TaskPending,
			Commission: commission,
			Guidelines: datatypes.NewJSONSlice([]string{"Mention the service", "Add a photo"}),
			CreatedAt:  createdAt.Add(time.Duration(i) * time.Second),
		}).Error)
	}
}

func (f *fixture) order(t *testing.T, id string) *Order {
	t.Helper()
	var o Order
	require.NoError(t, f.db.Preload("Tasks").First(&o, "id = ?", id).Error)
	return &o
}

func (f *fixture) tasks(t *testing.T, orderID string) []ReviewTask {
	t.Helper()
	var out []ReviewTask
	require.NoError(t, f.db.Order("id").Find(&out, "order_id = ?", orderID).Error)
	return out
}

func (f *fixture) expectUpload(times int) {
	f.proofs.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, objectPath string, _ []byte) (string, error) {
			return "https://cdn.example.com/review-proofs/" + objectPath, nil
		}).
		Times(times)
}

func shot() Screenshot {
	return Screenshot{Filename: "My Review.PNG", Data: []byte("\x89PNG fake")}
}

func TestClaimAndSubmitScenario(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 2, 5, time.Now().Add(-time.Hour))

	// intern I1 claims one of the two tasks
	board, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	view, ok := board.Find("o1")
	require.True(t, ok)
	require.Equal(t, 1, view.AvailableTasks)
	require.Equal(t, 1, view.MyTasks)
	require.Equal(t, 1, board.MyActiveTasks)
	require.NotNil(t, view.MyActiveTask)
	require.Equal(t, []string{"Mention the service", "Add a photo"}, []string(view.MyActiveTask.Guidelines))

	assigned := 0
	for _, tk := range f.tasks(t, "o1") {
		if tk.Status == TaskAssigned {
			assigned++
			require.Equal(t, "I1", *tk.InternID)
			require.NotNil(t, tk.AssignedAt)
		}
	}
	require.Equal(t, 1, assigned)

	f.expectUpload(2)
	f.events.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tk *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			require.Equal(t, taskname.ProofSubmitted, tk.Type())
			return &asynq.TaskInfo{ID: "evt"}, nil
		}).
		Times(2)

	// I1 submits proof
	board, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.NoError(t, err)

	o := f.order(t, "o1")
	require.Equal(t, 1, o.CompletedReviews)
	require.Equal(t, OrderInProgress, o.Status)

	view, ok = board.Find("o1")
	require.True(t, ok)
	require.Equal(t, 1, view.AvailableTasks)
	require.Zero(t, board.MyActiveTasks)
	require.InDelta(t, 5.0, board.MyPendingEarnings, 1e-9)

	var proof ReviewProof
	require.NoError(t, f.db.First(&proof, "intern_id = ?", "I1").Error)
	require.Equal(t, "Great service", proof.ReviewText)
	require.Contains(t, proof.ScreenshotURL, "-my-review.png")

	_, hasDraft, err := f.ctrl.Draft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.False(t, hasDraft)

	// I2 takes the remaining task
	_, err = f.ctrl.ClaimTask(asIntern("I2"), "o1")
	require.NoError(t, err)
	board, err = f.ctrl.SubmitProof(asIntern("I2"), "o1", shot(), "Friendly staff")
	require.NoError(t, err)

	o = f.order(t, "o1")
	require.Equal(t, 2, o.CompletedReviews)
	require.Equal(t, OrderCompleted, o.Status)
	require.LessOrEqual(t, o.CompletedReviews, o.TotalReviews)

	_, ok = board.Find("o1")
	require.False(t, ok, "completed orders leave the board")

	for _, tk := range f.tasks(t, "o1") {
		require.Equal(t, TaskSubmitted, tk.Status)
		require.NotNil(t, tk.CompletedAt)
	}

	// nothing left to claim
	_, err = f.ctrl.ClaimTask(asIntern("I3"), "o1")
	require.ErrorIs(t, err, ErrNoAvailableTask)
}

func TestClaimWithoutAvailableTaskLeavesRowsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 2, 5, time.Now())

	require.NoError(t, f.db.Model(&ReviewTask{}).Where("order_id = ?", "o1").Updates(map[string]any{
		"intern_id": "someone",
		"status":    TaskAssigned,
	}).Error)
	before := f.tasks(t, "o1")

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrNoAvailableTask)
	require.Equal(t, before, f.tasks(t, "o1"))

	_, err = f.ctrl.ClaimTask(asIntern("I1"), "missing")
	require.ErrorIs(t, err, ErrNoAvailableTask)
}

func TestClaimLosesRaceOnStaleRead(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	stale, err := f.store.Store.GetOrder(context.Background(), "o1")
	require.NoError(t, err)

	// another intern wins between our read and our write
	_, err = f.store.Store.ClaimTask(context.Background(), "o1-t0", "I2", time.Now())
	require.NoError(t, err)
	f.store.getFn = func(context.Context, string) (*Order, error) { return stale, nil }

	_, err = f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrNoAvailableTask)

	tasks := f.tasks(t, "o1")
	require.Equal(t, "I2", *tasks[0].InternID)
}

func TestClaimCancelledOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", "o1").Update("status", OrderCancelled).Error)

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrNoAvailableTask)
}

func TestSubmitIncompleteMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t)
	// no Upload expectation: any call fails the test

	_, err := f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "   ")
	require.ErrorIs(t, err, ErrIncompleteSubmission)

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o2", Screenshot{}, "Great service")
	require.ErrorIs(t, err, ErrIncompleteSubmission)

	require.Zero(t, f.store.calls.Load())
}

func TestSubmitIncompleteIgnoresSavedDraft(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)
	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", shot(), "Great service")
	require.NoError(t, err)

	before := f.store.calls.Load()

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", Screenshot{}, "")
	require.ErrorIs(t, err, ErrIncompleteSubmission)
	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", Screenshot{}, "Great service")
	require.ErrorIs(t, err, ErrIncompleteSubmission)
	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "  ")
	require.ErrorIs(t, err, ErrIncompleteSubmission)

	require.Equal(t, before, f.store.calls.Load())

	draft, ok, err := f.ctrl.Draft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Great service", draft.ReviewText)
	require.Equal(t, shot().Data, draft.Screenshot.Data)
}

func TestSubmitDraftIncomplete(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	// nothing saved yet
	_, err = f.ctrl.SubmitDraft(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrIncompleteSubmission)

	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", Screenshot{}, "Great service")
	require.NoError(t, err)

	before := f.store.calls.Load()
	_, err = f.ctrl.SubmitDraft(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrIncompleteSubmission)
	require.Equal(t, before, f.store.calls.Load())
}

func TestRejectedSubmitLeavesDraft(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.proofs.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []byte) (string, error) {
			close(entered)
			<-unblock
			return "", errors.New("503 slow down")
		})

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "First attempt")
	}()
	<-entered

	other := Screenshot{Filename: "other.png", Data: []byte("\x89PNG other")}
	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", other, "Second attempt")
	require.ErrorIs(t, err, ErrOperationInProgress)
	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", other, "Edited meanwhile")
	require.ErrorIs(t, err, ErrOperationInProgress)

	close(unblock)
	wg.Wait()
	require.ErrorIs(t, firstErr, ErrUpload)

	// the failed submission is what is kept for a retry
	draft, ok, err := f.ctrl.Draft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "First attempt", draft.ReviewText)
	require.Equal(t, shot().Data, draft.Screenshot.Data)
}

func TestSaveDraftRequiresAssignedTask(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 2, 5, time.Now())

	_, err := f.ctrl.SaveDraft(asIntern("I1"), "no-such-order", shot(), "Great service")
	require.ErrorIs(t, err, ErrNoAssignedTask)

	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrNoAssignedTask)

	// a task held by someone else does not count
	_, err = f.ctrl.ClaimTask(asIntern("I2"), "o1")
	require.NoError(t, err)
	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrNoAssignedTask)

	_, err = f.ctrl.SaveDraft(asIntern("I1"), "o1", Screenshot{}, " ")
	require.ErrorIs(t, err, ErrIncompleteSubmission)

	for _, id := range []string{"no-such-order", "o1"} {
		_, ok, err := f.ctrl.Draft(asIntern("I1"), id)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestSaveDraftLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i <= MaxDraftsPerSession; i++ {
		id := fmt.Sprintf("o%d", i)
		f.seedOrder(t, id, 1, 5, time.Now())
		_, err := f.ctrl.ClaimTask(asIntern("I1"), id)
		require.NoError(t, err)
	}

	for i := 0; i < MaxDraftsPerSession; i++ {
		_, err := f.ctrl.SaveDraft(asIntern("I1"), fmt.Sprintf("o%d", i), Screenshot{}, "Draft")
		require.NoError(t, err)
	}

	_, err := f.ctrl.SaveDraft(asIntern("I1"), fmt.Sprintf("o%d", MaxDraftsPerSession), Screenshot{}, "One too many")
	require.ErrorIs(t, err, ErrDraftLimit)

	// an existing draft can still be edited
	d, err := f.ctrl.SaveDraft(asIntern("I1"), "o0", shot(), "")
	require.NoError(t, err)
	require.Equal(t, "Draft", d.ReviewText)
	require.False(t, d.Screenshot.Empty())
}

func TestEarnings(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 1, 5, time.Now())
	f.seedOrder(t, "o2", 2, 7.5, time.Now())

	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	f.ctrl.now = func() time.Time {
		at = at.Add(time.Minute)
		return at
	}

	f.expectUpload(3)
	for _, c := range []struct{ intern, order string }{{"I1", "o1"}, {"I1", "o2"}, {"I2", "o2"}} {
		_, err := f.ctrl.ClaimTask(asIntern(c.intern), c.order)
		require.NoError(t, err)
		_, err = f.ctrl.SubmitProof(asIntern(c.intern), c.order, shot(), "Great service")
		require.NoError(t, err)
	}

	out, err := f.ctrl.Earnings(asIntern("I1"))
	require.NoError(t, err)
	require.Equal(t, 2, out.CompletedReviews)
	require.InDelta(t, 12.5, out.TotalEarnings, 1e-9)
	require.Len(t, out.Items, 2)
	require.Equal(t, "o2", out.Items[0].OrderID)
	require.Equal(t, "Business o2", out.Items[0].BusinessName)
	require.Equal(t, "ORD-o2", out.Items[0].OrderCode)
	require.Equal(t, "o1", out.Items[1].OrderID)
	require.False(t, out.Items[1].CompletedAt.IsZero())

	// history survives the order leaving the board
	require.Equal(t, OrderCompleted, f.order(t, "o1").Status)
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", "o2").Update("status", OrderCancelled).Error)
	out, err = f.ctrl.Earnings(asIntern("I1"))
	require.NoError(t, err)
	require.Len(t, out.Items, 2)

	none, err := f.ctrl.Earnings(asIntern("I3"))
	require.NoError(t, err)
	require.Empty(t, none.Items)
	require.Zero(t, none.TotalEarnings)

	_, err = f.ctrl.Earnings(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestReconcileOrderWithoutReviews(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 0, 5, time.Now())

	require.NoError(t, f.ctrl.Reconcile(context.Background(), "o1"))

	o := f.order(t, "o1")
	require.Zero(t, o.CompletedReviews)
	require.Equal(t, OrderCompleted, o.Status)
}

func TestOperationsRequireIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.FetchOrdersWithTasks(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.ctrl.ClaimTask(context.Background(), "o1")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.ctrl.SubmitProof(context.Background(), "o1", shot(), "text")
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Zero(t, f.store.calls.Load())
}

func TestSubmitWithoutAssignedTask(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrNoAssignedTask)
}

func TestConcurrentClaimSameOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 2, 5, time.Now())
	f.seedOrder(t, "o2", 1, 5, time.Now())

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	f.store.getFn = func(ctx context.Context, orderID string) (*Order, error) {
		if orderID == "o1" {
			once.Do(func() { close(entered) })
			<-unblock
		}
		return f.store.Store.GetOrder(ctx, orderID)
	}

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.ctrl.ClaimTask(asIntern("I1"), "o1")
	}()
	<-entered

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.ErrorIs(t, err, ErrOperationInProgress)

	// other orders are not blocked
	_, err = f.ctrl.ClaimTask(asIntern("I1"), "o2")
	require.NoError(t, err)

	close(unblock)
	wg.Wait()
	require.NoError(t, firstErr)

	// guard is released once the first call finished
	_, err = f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)
}

func TestSubmitTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Review.OperationTimeout = 50 * time.Millisecond
	})
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	f.proofs.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ []byte) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, ErrUpload)

	draft, ok, err := f.ctrl.Draft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Great service", draft.ReviewText)

	// the guard was cleared, a retry from the draft goes through
	f.expectUpload(1)
	f.events.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(&asynq.TaskInfo{}, nil)
	_, err = f.ctrl.SubmitDraft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.Equal(t, OrderCompleted, f.order(t, "o1").Status)
}

func TestSubmitUploadFailurePreservesDraft(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 2, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	f.proofs.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("503 slow down"))

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrUpload)

	var proofs int64
	require.NoError(t, f.db.Model(&ReviewProof{}).Count(&proofs).Error)
	require.Zero(t, proofs)
	for _, tk := range f.tasks(t, "o1") {
		require.NotEqual(t, TaskSubmitted, tk.Status)
	}

	draft, ok, err := f.ctrl.Draft(asIntern("I1"), "o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, shot().Data, draft.Screenshot.Data)
}

func TestSubmitProofPersistFailure(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	f.expectUpload(1)
	f.store.insertFn = func(context.Context, *ReviewProof) error { return errors.New("duplicate key") }

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrProofPersist)
	require.Equal(t, TaskAssigned, f.tasks(t, "o1")[0].Status)
	require.Zero(t, f.order(t, "o1").CompletedReviews)
}

func TestSubmitTaskUpdateFailure(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	f.expectUpload(1)
	f.store.markFn = func(context.Context, string, string, time.Time) error { return errors.New("conn refused") }

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrTaskUpdate)
	require.Equal(t, OrderPending, f.order(t, "o1").Status)
}

func TestSubmitOrderUpdateFailureEnqueuesReconcile(t *testing.T) {
	f := newFixture(t, noEvents)
	f.seedOrder(t, "o1", 2, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)

	f.expectUpload(1)
	f.store.syncFn = func(context.Context, string) (*Order, error) { return nil, errors.New("deadlock detected") }
	f.events.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tk *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			require.Equal(t, taskname.OrderReconcile, tk.Type())
			return &asynq.TaskInfo{}, nil
		})

	_, err = f.ctrl.SubmitProof(asIntern("I1"), "o1", shot(), "Great service")
	require.ErrorIs(t, err, ErrOrderUpdate)

	o := f.order(t, "o1")
	require.Zero(t, o.CompletedReviews)
	require.Equal(t, OrderPending, o.Status)

	// the worker re-derives progress; running it twice changes nothing
	f.store.syncFn = nil
	require.NoError(t, f.ctrl.Reconcile(context.Background(), "o1"))
	require.NoError(t, f.ctrl.Reconcile(context.Background(), "o1"))

	o = f.order(t, "o1")
	require.Equal(t, 1, o.CompletedReviews)
	require.Equal(t, OrderInProgress, o.Status)
}

func TestFetchOrdersWithTasks(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.seedOrder(t, "old", 1, 5, now.Add(-2*time.Hour))
	f.seedOrder(t, "new", 1, 5, now.Add(-time.Hour))
	f.seedOrder(t, "done", 1, 5, now)
	require.NoError(t, f.db.Model(&Order{}).Where("id = ?", "done").Update("status", OrderCompleted).Error)

	board, err := f.ctrl.FetchOrdersWithTasks(asIntern("I1"))
	require.NoError(t, err)
	require.Len(t, board.Orders, 2)
	require.Equal(t, "new", board.Orders[0].Order.ID)
	require.Equal(t, "old", board.Orders[1].Order.ID)
	require.Equal(t, 2, board.TotalAvailableTasks)
	require.False(t, board.Stale)

	f.store.listFn = func(context.Context) ([]*Order, error) { return nil, errors.New("connection reset") }

	stale, err := f.ctrl.FetchOrdersWithTasks(asIntern("I1"))
	require.ErrorIs(t, err, ErrFetch)
	require.NotNil(t, stale)
	require.True(t, stale.Stale)
	require.Len(t, stale.Orders, 2)

	// another intern has never fetched, so there is nothing to fall back to
	none, err := f.ctrl.FetchOrdersWithTasks(asIntern("I2"))
	require.ErrorIs(t, err, ErrFetch)
	require.Nil(t, none)
}

func TestMetricsRecordOutcome(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", 1, 5, time.Now())

	_, err := f.ctrl.ClaimTask(asIntern("I1"), "o1")
	require.NoError(t, err)
	_, err = f.ctrl.ClaimTask(asIntern("I2"), "o1")
	require.ErrorIs(t, err, ErrNoAvailableTask)

	require.Equal(t, 1.0, promtestutil.ToFloat64(f.ctrl.metrics.claims))
	require.Equal(t, 1.0, promtestutil.ToFloat64(f.ctrl.metrics.operations.WithLabelValues("claim", "ok")))
	require.Equal(t, 1.0, promtestutil.ToFloat64(f.ctrl.metrics.operations.WithLabelValues("claim", "conflict")))
}
