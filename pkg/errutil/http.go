package errutil

import (
	"context"
	"errors"
)

// FromError normalises any error into a BaseError so handlers can render it
// with a stable code.
func FromError(err error) BaseError {
	if err == nil {
		return BaseError{}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	if errors.Is(err, context.Canceled) {
		return BaseError{Code: StatusClientClosedRequest, Message: "request cancelled", Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return BaseError{Code: StatusGatewayTimeout, Message: "deadline exceeded", Err: err}
	}

	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}

// StatusOf returns the CoreStatus carried by err, StatusInternal otherwise.
func StatusOf(err error) CoreStatus {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}

// Is reports whether err carries the given status.
func Is(err error, status CoreStatus) bool {
	return err != nil && StatusOf(err) == status
}

// OrInternal passes BaseErrors through and wraps anything else as an
// internal error with msg.
func OrInternal(msg string, err error) error {
	if err == nil {
		return nil
	}
	var base BaseError
	if errors.As(err, &base) {
		return err
	}
	return Internal(msg, err)
}
