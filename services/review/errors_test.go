package review

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"reviewhub/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestNewErrorMapping(t *testing.T) {
	cases := []struct {
		sentinel error
		status   int
	}{
		{ErrNoAvailableTask, http.StatusConflict},
		{ErrIncompleteSubmission, http.StatusUnprocessableEntity},
		{ErrNoAssignedTask, http.StatusUnprocessableEntity},
		{ErrUpload, http.StatusBadGateway},
		{ErrProofPersist, http.StatusInternalServerError},
		{ErrTaskUpdate, http.StatusInternalServerError},
		{ErrOrderUpdate, http.StatusInternalServerError},
		{ErrFetch, http.StatusServiceUnavailable},
		{ErrOperationInProgress, http.StatusTooManyRequests},
		{ErrTimeout, http.StatusGatewayTimeout},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrDraftLimit, http.StatusUnprocessableEntity},
	}

	cause := errors.New("connection reset")
	for _, tc := range cases {
		t.Run(tc.sentinel.Error(), func(t *testing.T) {
			err := newError(tc.sentinel, cause)
			require.ErrorIs(t, err, tc.sentinel)
			require.ErrorIs(t, err, cause)
			require.Equal(t, tc.status, errutil.StatusOf(err).HTTPStatus())
			require.Equal(t, tc.sentinel.Error(), errutil.From(err).Message)
		})
	}
}

func TestDeadline(t *testing.T) {
	require.NoError(t, deadline(context.Background(), nil))

	plain := newError(ErrUpload, errors.New("503"))
	require.Equal(t, plain, deadline(context.Background(), plain))

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := deadline(ctx, newError(ErrUpload, ctx.Err()))
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, ErrUpload)
	require.Equal(t, errutil.StatusTimeout, errutil.StatusOf(err))
}
