package errors

import "net/http"

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates a condition that may clear on its own.
	// Examples: no confirming log evidence yet, a lost claim race.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown lock token, mismatched chat id, bad credentials.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or quota issues.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected failures of the service or the disk.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes used by the task queue.
const (
	// Transient
	ErrCodeNoTask       ErrorCode = "NO_TASK"       // Claim window held nothing claimable
	ErrCodeLockConflict ErrorCode = "LOCK_CONFLICT" // Lost a rename race to another claimant
	ErrCodePrecondition ErrorCode = "PRECONDITION"  // No confirming evidence yet
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Operation timed out

	// Permanent
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // Task or lock does not exist
	ErrCodeConflict      ErrorCode = "CONFLICT"       // Caller identity disagrees with the task
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // Malformed request or lock token
	ErrCodeUnprocessable ErrorCode = "UNPROCESSABLE"  // Required identity missing everywhere
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // Idempotent create found a duplicate
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"   // Credential missing
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"      // Credential mismatch
	ErrCodeCanceled      ErrorCode = "CANCELED"       // Operation was canceled

	// Resource
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Rate limit exceeded

	// Internal
	ErrCodeStorage    ErrorCode = "STORAGE"    // Filesystem or backend failure
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Unreadable task record
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNoTask, ErrCodeLockConflict, ErrCodePrecondition, ErrCodeTimeout:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeUnprocessable,
		ErrCodeAlreadyExists, ErrCodeUnauthorized, ErrCodeForbidden, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeRateLimit:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeNoTask:        "no task available",
	ErrCodeLockConflict:  "task claimed concurrently",
	ErrCodePrecondition:  "precondition not met",
	ErrCodeTimeout:       "operation timed out",
	ErrCodeNotFound:      "resource not found",
	ErrCodeConflict:      "conflicting identity",
	ErrCodeInvalidInput:  "invalid input provided",
	ErrCodeUnprocessable: "required identity missing",
	ErrCodeAlreadyExists: "resource already exists",
	ErrCodeUnauthorized:  "authentication required",
	ErrCodeForbidden:     "access denied",
	ErrCodeCanceled:      "operation canceled",
	ErrCodeRateLimit:     "rate limit exceeded",
	ErrCodeStorage:       "storage failure",
	ErrCodeCorruption:    "corrupted record",
	ErrCodeInternal:      "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// HTTPStatus maps the code to the status the consumer API answers with.
// ALREADY_EXISTS and NO_TASK are signals, not failures, so they map to 200.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeNoTask, ErrCodeAlreadyExists:
		return http.StatusOK
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeLockConflict:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrCodePrecondition:
		return http.StatusPreconditionFailed
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
