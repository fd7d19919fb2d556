package types

import (
	"errors"
	"fmt"
)

// ErrorKind names a class of failure, not a concrete type. The orchestrator
// and handlers switch on Kind to decide whether to degrade silently or
// surface the failure to the caller.
type ErrorKind string

const (
	// ErrInvalidInput covers empty questions, malformed JSON, schema violations.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrBackendUnavailable covers vector/graph index or completion service unreachable.
	ErrBackendUnavailable ErrorKind = "backend_unavailable"
	// ErrTimeout covers a per-branch deadline exceeded, and also a completion
	// service's rate-limit (HTTP 429) reply; there is no separate rate-limit kind.
	ErrTimeout ErrorKind = "timeout"
	// ErrSecurityViolation covers sandbox validation refusals or deny-listed constructs.
	ErrSecurityViolation ErrorKind = "security_violation"
	// ErrInconsistency covers a refused transfer or a failed type check on a state-set.
	ErrInconsistency ErrorKind = "inconsistency"
	// ErrParseFailure covers an analyzer or action-parser response that didn't parse.
	ErrParseFailure ErrorKind = "parse_failure"
)

// RagError is the sum type backing the error taxonomy. Evidence-gathering
// code swallows these after logging; generation and handlers that are
// themselves the user's request propagate them into the response envelope.
type RagError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RagError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RagError) Unwrap() error { return e.Cause }

// WithError attaches an underlying cause and returns the same error,
// mirroring the chained-construction style used elsewhere in this codebase.
func (e *RagError) WithError(cause error) *RagError {
	return &RagError{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// NewError builds a RagError of the given kind.
func NewError(kind ErrorKind, message string) *RagError {
	return &RagError{Kind: kind, Message: message}
}

// IsKind reports whether err is a *RagError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RagError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// Degradable reports whether an error kind should degrade silently
// (return empty evidence) rather than propagate to the caller.
func Degradable(kind ErrorKind) bool {
	switch kind {
	case ErrBackendUnavailable, ErrTimeout:
		return true
	default:
		return false
	}
}

var (
	ErrEmptyQuestion     = NewError(ErrInvalidInput, "question must not be empty")
	ErrSourceInsufficient = NewError(ErrInconsistency, "source does not have enough balance")
	ErrToolNotRegistered  = NewError(ErrInvalidInput, "tool is not registered")
	ErrSandboxRefused     = NewError(ErrSecurityViolation, "tool source refused by sandbox")
)
