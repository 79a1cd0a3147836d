// Package errkind classifies task-handling failures into the taxonomy
// the queue and planner reason about (retry eligibility, user-visible
// reporting) instead of branching on concrete error types.
package errkind

import (
	"errors"
	"fmt"
)

// Kind names a failure category from the error taxonomy.
type Kind string

const (
	Validation     Kind = "ValidationError"
	SafetyDenied   Kind = "SafetyDenied"
	Timeout        Kind = "Timeout"
	ProcessError   Kind = "ProcessError"
	FileIOError    Kind = "FileIOError"
	Network        Kind = "Network"
	RateLimit      Kind = "RateLimit"
	AuthFailure    Kind = "AuthFailure"
	ProviderRefusal Kind = "ProviderRefusal"
	UpstreamFailed Kind = "UpstreamFailed"
	ParseError     Kind = "ParseError"
	PlanningError  Kind = "PlanningError"
	Internal       Kind = "InternalError"
)

// retriable records, per kind, whether a fresh attempt is worth making.
// Timeout and FileIOError are context-dependent and classified at the
// call site via WithRetriable.
var retriable = map[Kind]bool{
	Validation:      false,
	SafetyDenied:    false,
	Timeout:         true,
	ProcessError:    true,
	FileIOError:     true,
	Network:         true,
	RateLimit:       true,
	AuthFailure:     false,
	ProviderRefusal: false,
	UpstreamFailed:  false,
	ParseError:      true,
	PlanningError:   false,
	Internal:        false,
}

// Classified is an error tagged with a Kind, optionally wrapping a cause.
type Classified struct {
	kind      Kind
	msg       string
	cause     error
	retriable bool
}

func (c *Classified) Error() string {
	if c.cause != nil {
		return fmt.Sprintf("%s: %s: %v", c.kind, c.msg, c.cause)
	}
	if c.msg == "" {
		return string(c.kind)
	}
	return fmt.Sprintf("%s: %s", c.kind, c.msg)
}

func (c *Classified) Unwrap() error { return c.cause }

// Kind returns the classification.
func (c *Classified) Kind() Kind { return c.kind }

// Retriable reports whether the queue should schedule another attempt.
func (c *Classified) Retriable() bool { return c.retriable }

// New builds a classified error with the default retriability for kind.
func New(kind Kind, msg string) *Classified {
	return &Classified{kind: kind, msg: msg, retriable: retriable[kind]}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Classified {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error) *Classified {
	return &Classified{kind: kind, cause: cause, retriable: retriable[kind]}
}

// WithRetriable overrides the default retry eligibility; used where the
// spec ties retriability to a runtime condition (e.g. Timeout is
// Retriable for SHELL_COMMAND but not for an AI refusal-induced timeout).
func (c *Classified) WithRetriable(v bool) *Classified {
	c.retriable = v
	return c
}

// Of extracts the Kind from err if it (or something it wraps) is
// Classified. Unclassified errors are reported as Internal.
func Of(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Internal
}

// IsRetriable reports whether err should be retried by the queue.
// Unclassified errors are treated as non-retriable (fail closed).
func IsRetriable(err error) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.retriable
	}
	return false
}
