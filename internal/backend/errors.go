package backend

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an analysis failure.
type Kind string

// Failure kinds.
const (
	KindUnknown            Kind = "unknown"
	KindSubmission         Kind = "submission"
	KindPoll               Kind = "poll"
	KindRemoteSolveFailure Kind = "remote_solve_failure"
	KindTimeout            Kind = "timeout"
	KindUserCancelled      Kind = "user_cancelled"
	KindLocalSolveFailure  Kind = "local_solve_failure"
	KindHealthCheckFailure Kind = "health_check_failure"
)

// Error is the failure of an analysis run or health probe.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// JobID is set for remote failures that happen after submission.
	JobID string

	// Status is the HTTP status for submission and poll rejections.
	Status int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// FromContext converts a done run context into the matching failure:
// cancellation is a user cancellation, an expired deadline is a timeout.
func FromContext(ctx context.Context) *Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, "analysis deadline exceeded", err)
	}
	return NewError(KindUserCancelled, "analysis cancelled", err)
}
