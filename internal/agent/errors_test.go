package agent

import (
	"errors"
	"testing"
)

func TestFatalError(t *testing.T) {
	cause := errors.New("boom")
	err := NewFatalError(FatalMaxIterations, cause)

	if err.Kind != FatalMaxIterations {
		t.Errorf("Kind = %s, want %s", err.Kind, FatalMaxIterations)
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	if err.Error() == "" {
		t.Error("error string should not be empty")
	}
}

func TestFatalErrorNilCause(t *testing.T) {
	err := NewFatalError(FatalCancelled, nil)
	if err.Error() != string(FatalCancelled) {
		t.Errorf("Error() = %q, want %q", err.Error(), FatalCancelled)
	}
}

func TestFatalErrorWithMessageOmitsCauseFormatting(t *testing.T) {
	err := &FatalError{Kind: FatalMaxAgents, Message: "no capacity"}
	if got, want := err.Error(), "max_agents: no capacity"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
