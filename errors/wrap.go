package errors

import (
	"context"
	"errors"
	"net/http"
)

// Wrap adds context to err. A classified error keeps its code and
// identifiers; context errors become TIMEOUT or CANCELED; anything else
// becomes INTERNAL. Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner := AsQueueError(err); inner != nil {
		wrapped := &Error{
			code:     inner.code,
			category: inner.category,
			message:  message,
			cause:    err,
			metadata: inner.Metadata(),
			taskID:   inner.taskID,
			lock:     inner.lock,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsQueueError returns the outermost *Error in the chain, or nil.
func AsQueueError(err error) *Error {
	var qErr *Error
	if errors.As(err, &qErr) {
		return qErr
	}
	return nil
}

// Is reports whether the outermost *Error in the chain has code.
func Is(err error, code ErrorCode) bool {
	qErr := AsQueueError(err)
	return qErr != nil && qErr.code == code
}

// Code returns the code of the outermost *Error, or "" if there is none.
func Code(err error) ErrorCode {
	if qErr := AsQueueError(err); qErr != nil {
		return qErr.code
	}
	return ""
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	qErr := AsQueueError(err)
	return qErr != nil && qErr.Retryable()
}

// HTTPStatus returns the HTTP status for err. Unclassified errors are 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if qErr := AsQueueError(err); qErr != nil {
		return qErr.HTTPStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
