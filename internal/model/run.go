package model

import (
	"fmt"
	"slices"
	"time"
)

// RunState is the state of a run.
type RunState string

const (
	RunStateCreated        RunState = "created"
	RunStatePolicyChecked  RunState = "policy-checked"
	RunStateSnapshotTaken  RunState = "snapshot-taken"
	RunStateRunning        RunState = "running"
	RunStateSucceeded      RunState = "succeeded"
	RunStateFailed         RunState = "failed"
	RunStateTimedOut       RunState = "timed-out"
	RunStateCanceled       RunState = "canceled"
	RunStatePolicyRejected RunState = "policy-rejected"
	RunStateRolledBack     RunState = "rolled-back"
	RunStateCommitted      RunState = "committed"
)

var runTransitions = map[RunState][]RunState{
	RunStateCreated:       {RunStatePolicyChecked, RunStatePolicyRejected},
	RunStatePolicyChecked: {RunStateSnapshotTaken},
	// An engine error before the process starts still rolls back.
	RunStateSnapshotTaken: {RunStateRunning, RunStateRolledBack},
	RunStateRunning:       {RunStateSucceeded, RunStateFailed, RunStateTimedOut, RunStateCanceled},
	RunStateSucceeded:     {RunStateCommitted},
	RunStateFailed:        {RunStateRolledBack},
	RunStateTimedOut:      {RunStateRolledBack},
	RunStateCanceled:      {RunStateRolledBack},
}

// CanTransition returns true if the state machine allows going from s to the target state.
func (s RunState) CanTransition(to RunState) bool {
	return slices.Contains(runTransitions[s], to)
}

// Terminal returns true if the run can't change anymore.
func (s RunState) Terminal() bool {
	return s == RunStatePolicyRejected || s == RunStateRolledBack || s == RunStateCommitted
}

// IsOutcome returns true if the state is an execution outcome.
func (s RunState) IsOutcome() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateTimedOut, RunStateCanceled, RunStatePolicyRejected:
		return true
	}
	return false
}

// Run is the aggregate of a single command request going through the runtime.
type Run struct {
	CorrelationID string
	WorkspaceRoot string
	Request       CommandRequest
	Decision      PolicyDecision
	StrippedEnv   []string
	Limits        ResourceLimitProfile
	Fallbacks     []LimitKind
	Snapshot      *SnapshotHandle
	State         RunState
	// Outcome is the execution outcome once known (succeeded, failed, timed-out...).
	Outcome         RunState
	ExitCode        *int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Restore         *RestoreReport
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// NewRun returns a new run in created state.
func NewRun(correlationID, workspaceRoot string, req CommandRequest, now time.Time) *Run {
	return &Run{
		CorrelationID: correlationID,
		WorkspaceRoot: workspaceRoot,
		Request:       req,
		State:         RunStateCreated,
		CreatedAt:     now,
	}
}

// Transition moves the run to a new state following the run state machine.
func (r *Run) Transition(to RunState) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("invalid run transition %s -> %s: %w", r.State, to, ErrNotValid)
	}

	r.State = to
	if to.IsOutcome() {
		r.Outcome = to
	}

	return nil
}

// Duration returns the execution duration of the run.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// Result returns the caller facing result of the run.
func (r *Run) Result() RunResult {
	res := RunResult{
		CorrelationID:   r.CorrelationID,
		State:           r.Outcome,
		Decision:        r.Decision,
		ExitCode:        r.ExitCode,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		StdoutTruncated: r.StdoutTruncated,
		StderrTruncated: r.StderrTruncated,
		Limits:          r.Limits,
		Restore:         r.Restore,
		Duration:        r.Duration(),
	}
	if r.State == RunStateCommitted || r.State == RunStateRolledBack {
		res.Closure = r.State
	}
	return res
}

// RunResult is the result returned to the caller of a run.
type RunResult struct {
	CorrelationID string
	// State is the execution outcome of the run.
	State RunState
	// Closure is committed or rolled-back, empty when nothing was executed.
	Closure         RunState
	Decision        PolicyDecision
	ExitCode        *int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Limits          ResourceLimitProfile
	Restore         *RestoreReport
	Duration        time.Duration
}

// Committed returns true if the run mutations were committed to the workspace.
func (r RunResult) Committed() bool { return r.Closure == RunStateCommitted }

// Diverged returns true if the rollback couldn't restore every path.
func (r RunResult) Diverged() bool { return r.Restore != nil && r.Restore.Diverged() }

// SequenceResult is the result of running several requests in order.
type SequenceResult struct {
	Results []RunResult
	// FailedIndex is the index of the first request that didn't commit, -1 when all committed.
	FailedIndex int
}

// OK returns true if every request of the sequence committed.
func (s SequenceResult) OK() bool { return s.FailedIndex < 0 }
