package errors

import (
	"encoding/json"
	"fmt"
)

// Error is a classified failure. Construct it with New or one of the
// code-specific helpers.
type Error struct {
	code     ErrorCode
	category ErrorCategory
	message  string
	cause    error
	metadata map[string]string
	taskID   string
	lock     string
}

var _ json.Marshaler = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.category }

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool { return e.category.IsRetryable() }

// Message returns the message without the cause chain.
func (e *Error) Message() string { return e.message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// TaskID returns the related task ID, if set.
func (e *Error) TaskID() string { return e.taskID }

// Lock returns the related lock token, if set.
func (e *Error) Lock() string { return e.lock }

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	if len(e.metadata) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		m[k] = v
	}
	return m
}

// HTTPStatus returns the status the API answers with for this error.
func (e *Error) HTTPStatus() int {
	return e.code.HTTPStatus()
}

// MarshalJSON renders the API error body. The cause chain stays server
// side; only the message is exposed.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OK        bool              `json:"ok"`
		Error     string            `json:"error"`
		Code      ErrorCode         `json:"code"`
		Retryable bool              `json:"retryable"`
		TaskID    string            `json:"task_id,omitempty"`
		Lock      string            `json:"lock,omitempty"`
		Details   map[string]string `json:"details,omitempty"`
	}{
		Error:     e.message,
		Code:      e.code,
		Retryable: e.Retryable(),
		TaskID:    e.taskID,
		Lock:      e.lock,
		Details:   e.metadata,
	})
}

// Option configures an Error.
type Option func(*Error)

// WithMetadata adds a key-value pair to the error details.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithTaskID sets the related task ID.
func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

// WithLock sets the related lock token.
func WithLock(lock string) Option {
	return func(e *Error) { e.lock = lock }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error with the code's default category.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NoTask signals an empty claim window.
func NoTask(opts ...Option) *Error {
	return New(ErrCodeNoTask, ErrCodeNoTask.Description(), opts...)
}

// NotFound reports a lock or task that no longer exists.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Conflict reports caller identity that disagrees with the stored task.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// InvalidInput reports a malformed request.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Unprocessable reports identity that is missing everywhere.
func Unprocessable(message string, opts ...Option) *Error {
	return New(ErrCodeUnprocessable, message, opts...)
}

// AlreadyExists signals an idempotent create that found its task.
func AlreadyExists(message string, opts ...Option) *Error {
	return New(ErrCodeAlreadyExists, message, opts...)
}

// PreconditionNotMet signals that completion evidence is not there yet.
func PreconditionNotMet(message string, opts ...Option) *Error {
	return New(ErrCodePrecondition, message, opts...)
}

// Forbidden reports a key or secret mismatch.
func Forbidden(message string, opts ...Option) *Error {
	return New(ErrCodeForbidden, message, opts...)
}

// RateLimited reports an exhausted claim budget.
func RateLimited(message string, opts ...Option) *Error {
	return New(ErrCodeRateLimit, message, opts...)
}

// Storage wraps a backend failure.
func Storage(message string, cause error, opts ...Option) *Error {
	return New(ErrCodeStorage, message, append(opts, WithCause(cause))...)
}

// Corruption reports an unreadable task record.
func Corruption(message string, cause error, opts ...Option) *Error {
	return New(ErrCodeCorruption, message, append(opts, WithCause(cause))...)
}

// Internal reports a bug or an unclassified failure.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
