package client

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type HTTPOptions struct {
	// RetryMax is the number of retries after the first try.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// OnAttempt is called before every try with its 0-based number.
	OnAttempt func(attempt int)
}

// NewHTTPClient returns a traced client that retries network errors and 5xx
// responses with capped exponential backoff. Any other response is handed
// back to the caller as is.
func NewHTTPClient(opts HTTPOptions) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	c.Logger = leveledLogger{zap.L().Sugar()}
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.CheckRetry = RetryServerErrors
	c.Backoff = retryablehttp.DefaultBackoff
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if opts.OnAttempt != nil {
		c.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
			opts.OnAttempt(attempt)
		}
	}

	return c
}

// RetryServerErrors retries transport errors and 5xx. 4xx is final.
func RetryServerErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

type leveledLogger struct {
	l *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.Warnw(msg, kv...) }
