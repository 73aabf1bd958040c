package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrConfiguration is returned when the runtime configuration (policy, workspace...) is malformed.
	ErrConfiguration = errors.New("configuration error")
	// ErrPolicyRejected is returned when the policy denies a command.
	ErrPolicyRejected = errors.New("policy rejected")
	// ErrSnapshotFailure is returned when the pre-run workspace state can't be captured.
	ErrSnapshotFailure = errors.New("snapshot failure")
	// ErrAuditWriteFailure is returned when an audit record can't be durably written.
	ErrAuditWriteFailure = errors.New("audit write failure")
	// ErrWorkspaceBusy is returned when a workspace already has an active run and the busy policy rejects.
	ErrWorkspaceBusy = errors.New("workspace busy")
	// ErrExecution is returned when the container engine fails to run a command.
	ErrExecution = errors.New("execution failure")
	// ErrTimeoutExceeded is returned when a run exceeds its wall-clock limit.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	// ErrRestoreDivergence is returned when a rollback couldn't restore every path.
	ErrRestoreDivergence = errors.New("restore divergence")
)

// RunError is an error that happened while processing a run, it carries the
// audit correlation ID so the decision trail can be retrieved.
type RunError struct {
	CorrelationID string
	Err           error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %s", e.CorrelationID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// CorrelationIDFromError returns the correlation ID of the run that produced the error, if any.
func CorrelationIDFromError(err error) (string, bool) {
	var rerr *RunError
	if errors.As(err, &rerr) {
		return rerr.CorrelationID, true
	}
	return "", false
}
