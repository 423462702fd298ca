package assistant

import (
	"fmt"

	"shipping-assistant/internal/domain"
)

type RunErrorKind string

const (
	// RunFailed means the backend reported a terminal non-success status.
	RunFailed RunErrorKind = "RUN_FAILED"
	// RunTimeout means the context ended or the poll bound was reached
	// before the run finished.
	RunTimeout RunErrorKind = "RUN_TIMEOUT"
)

// RunError is returned when a run does not reach COMPLETED.
type RunError struct {
	Kind     RunErrorKind
	ThreadID string
	RunID    string
	Status   domain.RunStatus
	Message  string
	Err      error
}

func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("assistant: %s (thread=%s run=%s status=%s)", e.Kind, e.ThreadID, e.RunID, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
