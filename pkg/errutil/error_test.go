package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructorsKeepCause(t *testing.T) {
	cause := errors.New("boom")
	err := Conflict("activation is not draft", cause)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, StatusConflict, be.Status())
	require.ErrorIs(t, err, cause)
	require.Equal(t, http.StatusConflict, be.Code.HTTPStatus())
}

func TestFromError(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", NotFound("activation not found", nil))
	require.Equal(t, StatusNotFound, StatusOf(wrapped))
	require.True(t, Is(wrapped, StatusNotFound))

	require.Equal(t, StatusGatewayTimeout, StatusOf(context.DeadlineExceeded))
	require.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
	require.Equal(t, CoreStatus(""), StatusOf(nil))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusValidationFailed:  http.StatusBadRequest,
		StatusBadRequest:        http.StatusBadRequest,
		StatusUnauthorized:      http.StatusUnauthorized,
		StatusNotFound:          http.StatusNotFound,
		StatusConflict:          http.StatusConflict,
		StatusInternal:          http.StatusInternalServerError,
		StatusInconsistentState: http.StatusInternalServerError,
	}
	for status, want := range cases {
		require.Equal(t, want, status.HTTPStatus(), status)
	}
}

func TestJSONHidesInternalCause(t *testing.T) {
	body := FromError(Internal("failed to publish", errors.New("pq: connection refused"))).JSON()
	require.Equal(t, "failed to publish", body["error"])

	body = FromError(ValidationFailed("insufficient balance", errors.New("need 110000.00"))).JSON()
	require.Equal(t, "insufficient balance: need 110000.00", body["error"])
	require.Equal(t, StatusValidationFailed, body["code"])
}

func TestRequireID(t *testing.T) {
	require.NoError(t, RequireID("id", "act-1"))

	for _, id := range []string{"", "   "} {
		err := RequireID("activation_id", id)
		var be BaseError
		require.True(t, errors.As(err, &be))
		require.Equal(t, StatusValidationFailed, be.Status())
		require.Equal(t, "activation_id", be.Details[0].Field)
	}
}
