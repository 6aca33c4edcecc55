package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/require"
)

func TestRetryServerErrors(t *testing.T) {
	ctx := context.Background()

	retry, err := RetryServerErrors(ctx, nil, errors.New("connection reset"))
	require.NoError(t, err)
	require.True(t, retry)

	retry, _ = RetryServerErrors(ctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	require.True(t, retry)

	retry, _ = RetryServerErrors(ctx, &http.Response{StatusCode: http.StatusTooManyRequests}, nil)
	require.False(t, retry)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = RetryServerErrors(cancelled, nil, errors.New("x"))
	require.False(t, retry)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPClientStopsAfterRetryMax(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var attempts atomic.Int32
	c := NewHTTPClient(HTTPOptions{
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		OnAttempt:    func(int) { attempts.Add(1) },
	})

	req, err := retryablehttp.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(3), hits.Load())
	require.Equal(t, int32(3), attempts.Load())
}
