package review

import (
	"context"
	"errors"
	"fmt"

	"reviewhub/pkg/errutil"
)

var (
	ErrUnauthenticated      = errors.New("no signed-in user")
	ErrNoAvailableTask      = errors.New("no available task")
	ErrNoAssignedTask       = errors.New("no assigned task on this order")
	ErrIncompleteSubmission = errors.New("screenshot and review text are required")
	ErrUpload               = errors.New("screenshot upload failed")
	ErrProofPersist         = errors.New("saving proof failed")
	ErrTaskUpdate           = errors.New("updating task failed")
	ErrOrderUpdate          = errors.New("updating order progress failed")
	ErrFetch                = errors.New("loading orders failed")
	ErrOperationInProgress  = errors.New("another operation on this order is in progress")
	ErrTimeout              = errors.New("operation timed out")
	ErrDraftLimit           = errors.New("too many unsent drafts")
)

type errorCtor func(msg string, err error, options ...errutil.Option) error

var ctors = map[error]errorCtor{
	ErrUnauthenticated:      errutil.Unauthorized,
	ErrNoAvailableTask:      errutil.Conflict,
	ErrNoAssignedTask:       errutil.UnprocessableEntity,
	ErrIncompleteSubmission: errutil.ValidationFailed,
	ErrUpload:               errutil.BadGateway,
	ErrProofPersist:         errutil.Internal,
	ErrTaskUpdate:           errutil.Internal,
	ErrOrderUpdate:          errutil.Internal,
	ErrFetch:                errutil.ServiceUnavailable,
	ErrOperationInProgress:  errutil.TooManyRequest,
	ErrTimeout:              errutil.Timeout,
	ErrDraftLimit:           errutil.UnprocessableEntity,
}

// newError wraps sentinel, and cause when given, in the BaseError matching the
// sentinel so both errors.Is and the HTTP mapping work.
func newError(sentinel, cause error, opts ...errutil.Option) error {
	inner := sentinel
	if cause != nil {
		inner = fmt.Errorf("%w: %w", sentinel, cause)
	}
	ctor, ok := ctors[sentinel]
	if !ok {
		ctor = errutil.Internal
	}
	return ctor(sentinel.Error(), inner, opts...)
}

// deadline converts err into a timeout error when ctx ran out of time,
// keeping err as the cause.
func deadline(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, err)
	}
	return err
}
