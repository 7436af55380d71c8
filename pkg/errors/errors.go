package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	// CodeDuplicateIgnored marks a replayed mutation whose effect already
	// exists. Callers treat it as success.
	CodeDuplicateIgnored Code = "DUPLICATE_IGNORED"
	// CodeSerializationConflict is returned when a serializable transaction
	// aborts because of a concurrent conflicting transaction.
	CodeSerializationConflict Code = "SERIALIZATION_CONFLICT"
	CodeDependency            Code = "DEPENDENCY_ERROR"
	// CodeInvariantViolation marks corrupt or impossible persisted state.
	// The current job execution fails and operator attention is required.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeInternal           Code = "INTERNAL_ERROR"
)

type Metadata struct {
	Retryable     bool
	Fatal         bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "validation failed",
	},
	CodeNotFound: {
		Retryable:     false,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		Retryable:     false,
		PublicMessage: "conflict detected",
	},
	CodeStateConflict: {
		Retryable:     false,
		PublicMessage: "state transition disallowed",
	},
	CodeDuplicateIgnored: {
		Retryable:     false,
		PublicMessage: "duplicate effect ignored",
	},
	CodeSerializationConflict: {
		Retryable:     true,
		PublicMessage: "concurrent transaction conflict",
	},
	CodeDependency: {
		Retryable:     true,
		PublicMessage: "dependency unavailable",
	},
	CodeInvariantViolation: {
		Retryable:     false,
		Fatal:         true,
		PublicMessage: "invariant violation",
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// IsRetryable reports whether the job scheduler should re-attempt the
// operation that produced err.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		// Untyped errors are treated as transient infrastructure failures.
		return true
	}
	return MetadataFor(typed.Code()).Retryable
}

// IsBenignDuplicate reports whether err signals an effect that has already
// been applied.
func IsBenignDuplicate(err error) bool {
	typed := As(err)
	return typed != nil && typed.Code() == CodeDuplicateIgnored
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
