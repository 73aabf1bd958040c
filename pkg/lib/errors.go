package lib

import (
	"errors"
	"slices"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// Sentinel errors returned by the SDK. Use [errors.Is] to check them.
var (
	// ErrNotFound is returned when a run or an audit log doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned when a request or a policy is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrConfiguration is returned when the client configuration is malformed.
	ErrConfiguration = errors.New("configuration error")
	// ErrSnapshotFailure is returned when the workspace state can't be captured before a run.
	ErrSnapshotFailure = errors.New("snapshot failure")
	// ErrAuditWriteFailure is returned when an audit record can't be durably written.
	// The run is rolled back.
	ErrAuditWriteFailure = errors.New("audit write failure")
	// ErrWorkspaceBusy is returned when the workspace has an active run and the busy policy rejects.
	ErrWorkspaceBusy = errors.New("workspace busy")
	// ErrExecution is returned when the container engine can't run a command.
	ErrExecution = errors.New("execution failure")
)

var errorMapping = []struct {
	internal error
	public   error
}{
	{model.ErrNotFound, ErrNotFound},
	{model.ErrNotValid, ErrNotValid},
	{model.ErrConfiguration, ErrConfiguration},
	{model.ErrSnapshotFailure, ErrSnapshotFailure},
	{model.ErrAuditWriteFailure, ErrAuditWriteFailure},
	{model.ErrWorkspaceBusy, ErrWorkspaceBusy},
	{model.ErrExecution, ErrExecution},
}

// CorrelationID returns the correlation ID of the run that produced the error,
// it can be used to retrieve the run audit trail.
func CorrelationID(err error) (string, bool) {
	return model.CorrelationIDFromError(err)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var sentinels []error
	for _, m := range errorMapping {
		if errors.Is(err, m.internal) {
			sentinels = append(sentinels, m.public)
		}
	}
	if len(sentinels) == 0 {
		return err
	}
	return &mappedError{original: err, sentinels: sentinels}
}

type mappedError struct {
	original  error
	sentinels []error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return slices.Contains(e.sentinels, target)
}

func (e *mappedError) Unwrap() error { return e.original }
