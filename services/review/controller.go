package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"reviewhub/pkg/config"
	"reviewhub/pkg/errutil"
	"reviewhub/pkg/gen"
	"reviewhub/pkg/identity"
	"reviewhub/pkg/inflight"
	"reviewhub/pkg/task"
	reviewtask "reviewhub/services/review/task"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultOperationTimeout = 30 * time.Second

// Controller runs the claim and proof-submission workflow for signed-in
// interns. Every successful mutation is followed by a full re-fetch of the
// open orders so the returned board never mixes local and remote state.
type Controller struct {
	store    Store
	proofs   ProofStorage
	guard    inflight.Guard
	sessions *Sessions
	ids      gen.IDGenerator
	events   task.Enqueuer
	metrics  *Metrics

	timeout       time.Duration
	enqueueEvents bool
	now           func() time.Time
}

type ControllerParams struct {
	fx.In

	Config   *config.Config
	Store    Store
	Proofs   ProofStorage
	Guard    inflight.Guard
	Sessions *Sessions
	IDs      gen.IDGenerator
	Events   task.Enqueuer `optional:"true"`
	Metrics  *Metrics      `optional:"true"`
}

func NewController(p ControllerParams) *Controller {
	timeout := p.Config.Review.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}

	return &Controller{
		store:         p.Store,
		proofs:        p.Proofs,
		guard:         p.Guard,
		sessions:      p.Sessions,
		ids:           p.IDs,
		events:        p.Events,
		metrics:       p.Metrics,
		timeout:       timeout,
		enqueueEvents: p.Config.Review.EnqueueEvents && p.Events != nil,
		now:           time.Now,
	}
}

func logger(ctx context.Context, user *identity.User) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	fields := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
	if user != nil {
		fields = append(fields, zap.String("user_id", user.ID))
	}
	return zap.L().With(fields...)
}

func currentUser(ctx context.Context) (*identity.User, error) {
	u, ok := identity.FromContext(ctx)
	if !ok {
		return nil, newError(ErrUnauthenticated, nil)
	}
	return u, nil
}

// lock rejects a second operation on the same order by the same user while
// the first is still running.
func (c *Controller) lock(ctx context.Context, userID, orderID string) (func(), error) {
	release, err := c.guard.Acquire(ctx, userID+":"+orderID)
	if errors.Is(err, inflight.ErrBusy) {
		return nil, newError(ErrOperationInProgress, nil)
	}
	if err != nil {
		return nil, errutil.ServiceUnavailable("operation guard unavailable", err)
	}
	return release, nil
}

// refresh re-reads the open orders and rebuilds the board. When the read
// fails the last good board is returned, marked stale, next to the error.
func (c *Controller) refresh(ctx context.Context, user *identity.User, sess *Session) (*Board, error) {
	orders, err := c.store.ListOpenOrders(ctx)
	if err != nil {
		err = deadline(ctx, newError(ErrFetch, err))
		if last, ok := sess.LastBoard(); ok {
			last.Stale = true
			return &last, err
		}
		return nil, err
	}

	board := Aggregate(user.ID, orders)
	sess.setBoard(board)
	return &board, nil
}

// FetchOrdersWithTasks returns the caller's board built from every pending
// and in-progress order.
func (c *Controller) FetchOrdersWithTasks(ctx context.Context) (board *Board, err error) {
	defer func(start time.Time) { c.metrics.observe("fetch", start, err) }(time.Now())

	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	board, err = c.refresh(ctx, user, c.sessions.Get(user.ID))
	if err != nil {
		logger(ctx, user).Warn("failed to fetch orders", zap.Error(err))
	}
	return board, err
}

// ClaimTask assigns the first available task of orderID to the caller.
func (c *Controller) ClaimTask(ctx context.Context, orderID string) (board *Board, err error) {
	defer func(start time.Time) { c.metrics.observe("claim", start, err) }(time.Now())

	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	log := logger(ctx, user).With(zap.String("order_id", orderID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.lock(ctx, user.ID, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, deadline(ctx, newError(ErrFetch, err))
	}
	if order == nil || !order.Status.Open() {
		return nil, newError(ErrNoAvailableTask, nil)
	}

	var candidate *ReviewTask
	for _, t := range order.Tasks {
		if t != nil && t.Available() {
			candidate = t
			break
		}
	}
	if candidate == nil {
		return nil, newError(ErrNoAvailableTask, nil)
	}

	claimed, err := c.store.ClaimTask(ctx, candidate.ID, user.ID, c.now())
	if err != nil {
		log.Error("failed to claim task", zap.String("task_id", candidate.ID), zap.Error(err))
		return nil, deadline(ctx, newError(ErrTaskUpdate, err))
	}
	if !claimed {
		// someone else took it after our read
		log.Info("task claimed concurrently", zap.String("task_id", candidate.ID))
		return nil, newError(ErrNoAvailableTask, nil)
	}

	if c.metrics != nil {
		c.metrics.claims.Inc()
	}
	log.Info("task claimed", zap.String("task_id", candidate.ID))

	return c.refresh(ctx, user, c.sessions.Get(user.ID))
}

// SubmitProof uploads the screenshot and records the proof for the caller's
// assigned task on orderID, then moves the task and order forward. Both parts
// must be present in the call. The input is kept as the order's draft while
// the submission is in flight and cleared once it goes through.
func (c *Controller) SubmitProof(ctx context.Context, orderID string, screenshot Screenshot, reviewText string) (board *Board, err error) {
	defer func(start time.Time) { c.metrics.observe("submit", start, err) }(time.Now())

	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	input := Draft{Screenshot: screenshot, ReviewText: strings.TrimSpace(reviewText)}
	if !input.Complete() {
		return nil, newError(ErrIncompleteSubmission, nil)
	}
	return c.submit(ctx, user, orderID, &input)
}

// SubmitDraft sends the caller's saved draft for orderID.
func (c *Controller) SubmitDraft(ctx context.Context, orderID string) (board *Board, err error) {
	defer func(start time.Time) { c.metrics.observe("submit", start, err) }(time.Now())

	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	if d, ok := c.sessions.Get(user.ID).Draft(orderID); !ok || !d.Complete() {
		return nil, newError(ErrIncompleteSubmission, nil)
	}
	return c.submit(ctx, user, orderID, nil)
}

// submit sends input, or the saved draft when input is nil. The draft is only
// touched once the per-order guard is held.
func (c *Controller) submit(ctx context.Context, user *identity.User, orderID string, input *Draft) (*Board, error) {
	log := logger(ctx, user).With(zap.String("order_id", orderID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.lock(ctx, user.ID, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess := c.sessions.Get(user.ID)
	var draft Draft
	if input == nil {
		d, ok := sess.Draft(orderID)
		if !ok || !d.Complete() {
			return nil, newError(ErrIncompleteSubmission, nil)
		}
		draft = d
	} else {
		draft = *input
	}

	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, deadline(ctx, newError(ErrFetch, err))
	}
	mine := order.AssignedTo(user.ID)
	if mine == nil {
		return nil, newError(ErrNoAssignedTask, nil)
	}
	log = log.With(zap.String("task_id", mine.ID))

	if input != nil {
		draft.UpdatedAt = c.now()
		if _, err := sess.SaveDraft(orderID, draft); err != nil {
			log.Warn("submission not kept as draft", zap.Error(err))
		}
	}

	now := c.now()
	url, err := c.proofs.Upload(ctx, ProofObjectPath(mine.ID, draft.Screenshot.Filename, now), draft.Screenshot.Data)
	if err != nil {
		log.Error("failed to upload screenshot", zap.Error(err))
		return nil, deadline(ctx, newError(ErrUpload, err))
	}

	proof := &ReviewProof{
		ID:            c.ids.GenerateID().String(),
		TaskID:        mine.ID,
		InternID:      user.ID,
		ScreenshotURL: url,
		ReviewText:    draft.ReviewText,
		CreatedAt:     now,
	}
	if err := c.store.InsertProof(ctx, proof); err != nil {
		log.Error("failed to insert proof", zap.String("screenshot_url", url), zap.Error(err))
		return nil, deadline(ctx, newError(ErrProofPersist, err))
	}

	if err := c.store.MarkTaskSubmitted(ctx, mine.ID, user.ID, now); err != nil {
		log.Error("failed to mark task submitted", zap.String("proof_id", proof.ID), zap.Error(err))
		return nil, deadline(ctx, newError(ErrTaskUpdate, err))
	}

	if _, err := c.store.SyncOrderProgress(ctx, orderID); err != nil {
		log.Error("failed to update order progress", zap.Error(err))
		c.enqueueReconcile(ctx, log, orderID)
		return nil, deadline(ctx, newError(ErrOrderUpdate, err))
	}

	sess.ClearDraft(orderID)
	if c.metrics != nil {
		c.metrics.proofs.Inc()
	}
	log.Info("proof submitted", zap.String("proof_id", proof.ID))

	c.publishSubmitted(ctx, log, reviewtask.ProofSubmittedPayload{
		OrderID:    orderID,
		TaskID:     mine.ID,
		InternID:   user.ID,
		ProofID:    proof.ID,
		Commission: mine.Commission,
		CreatedAt:  now,
	})

	return c.refresh(ctx, user, sess)
}

// Draft returns the caller's saved draft for orderID.
func (c *Controller) Draft(ctx context.Context, orderID string) (Draft, bool, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return Draft{}, false, err
	}
	d, ok := c.sessions.Get(user.ID).Draft(orderID)
	return d, ok, nil
}

// SaveDraft stores the non-empty parts of a submission without sending it.
// Only an order the caller holds an assigned task on can carry a draft.
func (c *Controller) SaveDraft(ctx context.Context, orderID string, screenshot Screenshot, reviewText string) (Draft, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return Draft{}, err
	}

	input := Draft{Screenshot: screenshot, ReviewText: strings.TrimSpace(reviewText)}
	if input.Screenshot.Empty() && input.ReviewText == "" {
		return Draft{}, newError(ErrIncompleteSubmission, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.lock(ctx, user.ID, orderID)
	if err != nil {
		return Draft{}, err
	}
	defer release()

	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return Draft{}, deadline(ctx, newError(ErrFetch, err))
	}
	if order.AssignedTo(user.ID) == nil {
		return Draft{}, newError(ErrNoAssignedTask, nil)
	}

	input.UpdatedAt = c.now()
	d, err := c.sessions.Get(user.ID).SaveDraft(orderID, input)
	if err != nil {
		return Draft{}, newError(err, nil)
	}
	return d, nil
}

// EarningsItem is one submitted task in the intern's history.
type EarningsItem struct {
	TaskID       string    `json:"task_id"`
	OrderID      string    `json:"order_id"`
	OrderCode    string    `json:"order_code"`
	BusinessName string    `json:"business_name"`
	Commission   float64   `json:"commission"`
	CompletedAt  time.Time `json:"completed_at"`
}

type Earnings struct {
	Items            []EarningsItem `json:"items"`
	CompletedReviews int            `json:"completed_reviews"`
	TotalEarnings    float64        `json:"total_earnings"`
}

// Earnings lists every task the caller has submitted, whatever state its
// order is in now.
func (c *Controller) Earnings(ctx context.Context) (out *Earnings, err error) {
	defer func(start time.Time) { c.metrics.observe("earnings", start, err) }(time.Now())

	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tasks, err := c.store.ListSubmittedTasks(ctx, user.ID)
	if err != nil {
		logger(ctx, user).Warn("failed to load earnings", zap.Error(err))
		return nil, deadline(ctx, newError(ErrFetch, err))
	}

	out = &Earnings{Items: make([]EarningsItem, 0, len(tasks))}
	for _, t := range tasks {
		item := EarningsItem{
			TaskID:     t.ID,
			OrderID:    t.OrderID,
			Commission: t.Commission,
		}
		if t.Order != nil {
			item.OrderCode = t.Order.Code
			item.BusinessName = t.Order.BusinessName
		}
		if t.CompletedAt != nil {
			item.CompletedAt = *t.CompletedAt
		}
		out.Items = append(out.Items, item)
		out.TotalEarnings += t.Commission
	}
	out.CompletedReviews = len(out.Items)
	return out, nil
}

// Reconcile re-derives an order's progress. Safe to run any number of times.
func (c *Controller) Reconcile(ctx context.Context, orderID string) error {
	return Reconcile(ctx, c.store, orderID)
}

func Reconcile(ctx context.Context, store Store, orderID string) error {
	order, err := store.SyncOrderProgress(ctx, orderID)
	if err != nil {
		return newError(ErrOrderUpdate, err)
	}
	zap.L().Info("order reconciled",
		zap.String("order_id", orderID),
		zap.Int("completed_reviews", order.CompletedReviews),
		zap.String("status", string(order.Status)),
	)
	return nil
}

// background detaches from the request so events still go out after a timeout.
func background(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (c *Controller) enqueueReconcile(ctx context.Context, log *zap.Logger, orderID string) {
	if c.events == nil {
		return
	}

	t, err := reviewtask.NewOrderReconcileTask(reviewtask.OrderReconcilePayload{OrderID: orderID})
	if err != nil {
		log.Error("failed to build reconcile task", zap.Error(err))
		return
	}

	ctx, cancel := background(ctx)
	defer cancel()
	if _, err := c.events.Enqueue(ctx, t); err != nil {
		log.Warn("failed to enqueue reconcile task", zap.Error(err))
	}
}

func (c *Controller) publishSubmitted(ctx context.Context, log *zap.Logger, p reviewtask.ProofSubmittedPayload) {
	if !c.enqueueEvents {
		return
	}

	t, err := reviewtask.NewProofSubmittedTask(p)
	if err != nil {
		log.Error("failed to build proof submitted task", zap.Error(err))
		return
	}

	ctx, cancel := background(ctx)
	defer cancel()
	if _, err := c.events.Enqueue(ctx, t); err != nil {
		log.Warn("failed to enqueue proof submitted task", zap.Error(err))
	}
}
