package agent

import "fmt"

// FatalKind classifies loop-level errors that propagate out of the Runtime
// Controller rather than being appended as a tool result and continued
// past. Ordinary tool failures never become a FatalKind; only cancellation,
// retry-exhausted rate limiting, and the sub-agent spawner's capacity/depth/
// cycle errors do.
type FatalKind string

const (
	FatalRateLimited       FatalKind = "rate_limited"
	FatalCompressionFailed FatalKind = "compression_failed"
	FatalPersistenceFailed FatalKind = "persistence_failed"
	FatalMaxIterations     FatalKind = "max_iterations"
	FatalMaxDepth          FatalKind = "max_depth"
	FatalMaxAgents         FatalKind = "max_agents"
	FatalDependencyCycle   FatalKind = "dependency_cycle"
	FatalCancelled         FatalKind = "cancelled"
)

// FatalError is a loop-level failure: the Runtime Controller produces
// either a string result or a FatalError, never both.
type FatalError struct {
	Kind    FatalKind
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// NewFatalError builds a FatalError of the given kind.
func NewFatalError(kind FatalKind, cause error) *FatalError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &FatalError{Kind: kind, Message: msg, Cause: cause}
}
