package accounts

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service is an *Error whose Kind is one of these.
var (
	ErrValidationFailed       = errors.New("validation_failed")
	ErrAlreadyExists          = errors.New("already_exists")
	ErrInvalidCredentials     = errors.New("invalid_credentials")
	ErrAuthenticationFailed   = errors.New("authentication_failed")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrStoreUnavailable       = errors.New("store_unavailable")
	ErrFederationTokenInvalid = errors.New("federation_token_invalid")
)

var defaultMessages = map[error]string{
	ErrValidationFailed:     "invalid request",
	ErrAlreadyExists:        "an account with this email already exists",
	ErrInvalidCredentials:   "invalid email or password",
	ErrAuthenticationFailed: "authentication failed",
	ErrUnauthenticated:      "authentication required",
	ErrStoreUnavailable:     "internal server error",
}

// Error carries the failed operation, the kind the caller sees, and the internal cause.
// errors.Is matches both the kind and the cause chain.
type Error struct {
	operation string
	kind      error
	message   string
	cause     error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.operation, e.kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.operation, e.kind, e.cause)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Kind returns the sentinel the caller should branch on.
func (e *Error) Kind() error {
	return e.kind
}

// Operation names the service operation that failed.
func (e *Error) Operation() string {
	return e.operation
}

// Message is safe to show to clients.
func (e *Error) Message() string {
	return e.message
}

func newError(operation string, kind, cause error) error {
	return &Error{operation: operation, kind: kind, message: defaultMessages[kind], cause: cause}
}

func newValidationError(operation, message string, cause error) error {
	if message == "" {
		message = defaultMessages[ErrValidationFailed]
	}
	return &Error{operation: operation, kind: ErrValidationFailed, message: message, cause: cause}
}
