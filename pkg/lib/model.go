package lib

import (
	"time"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/workspace"
)

// EngineType identifies the container engine implementation.
type EngineType string

const (
	// EngineDocker runs commands in Docker containers. Requires a reachable
	// Docker daemon and the sandbox image.
	EngineDocker EngineType = "docker"

	// EngineFake simulates containers in memory, every command succeeds with no output.
	// Use this for unit testing without infrastructure dependencies.
	EngineFake EngineType = "fake"
)

// BusyPolicy is what a run does when its workspace already has an active run.
type BusyPolicy string

const (
	// BusyPolicyQueue waits for the active run to finish.
	BusyPolicyQueue BusyPolicy = BusyPolicy(workspace.BusyPolicyQueue)
	// BusyPolicyReject fails with [ErrWorkspaceBusy].
	BusyPolicyReject BusyPolicy = BusyPolicy(workspace.BusyPolicyReject)
)

// RunState is the state of a run.
//
// The lifecycle of an executed run is:
//
//	created -> policy-checked -> snapshot-taken -> running -> succeeded -> committed
//	                                                       -> failed|timed-out|canceled -> rolled-back
//
// A run denied by the policy ends as policy-rejected without executing.
type RunState string

const (
	RunStateSucceeded      RunState = RunState(model.RunStateSucceeded)
	RunStateFailed         RunState = RunState(model.RunStateFailed)
	RunStateTimedOut       RunState = RunState(model.RunStateTimedOut)
	RunStateCanceled       RunState = RunState(model.RunStateCanceled)
	RunStatePolicyRejected RunState = RunState(model.RunStatePolicyRejected)
	RunStateRolledBack     RunState = RunState(model.RunStateRolledBack)
	RunStateCommitted      RunState = RunState(model.RunStateCommitted)
)

// CommandRequest is a command to run in the sandbox.
//
// Set either Command (with Args) or Shell with Line.
type CommandRequest struct {
	Command string
	Args    []string
	// Shell runs Line through `sh -c`, the policy evaluates every command of the line.
	Shell bool
	Line  string
	// Env is filtered by the policy environment allowlist.
	Env map[string]string
	// Paths are workspace relative paths the command touches.
	Paths []string
	// Timeout overrides the client default timeout when set.
	Timeout time.Duration
}

// Limits are resource limits, zero values are not limited.
type Limits struct {
	MemoryBytes int64
	CPUs        float64
	PIDs        int64
}

// LimitEntry is a resolved limit of a run. A limit that the host couldn't
// enforce is advisory and carries the reason.
type LimitEntry struct {
	// Kind is memory, cpu or pids.
	Kind string
	// Value is bytes for memory, nano CPUs for cpu and a count for pids.
	Value    int64
	Enforced bool
	Reason   string
}

// PolicyRule is an allow or deny rule, all of its set matchers must match.
type PolicyRule struct {
	Name string
	// Command is a glob over the executable name (e.g. `python*`).
	Command string
	// Pattern is a regular expression over the normalized command line.
	Pattern string
	// Expr is a CEL expression over `command`, `args` and `line`.
	Expr string
}

// PolicyRuleSet is the command policy. Deny rules take precedence over allow
// rules and commands matching no allow rule are denied.
type PolicyRuleSet struct {
	Allow         []PolicyRule
	Deny          []PolicyRule
	EnvAllowlist  []string
	WorkingSubdir string
	StrictEnv     bool

	// AllowSubstitution allows shell lines with command or process
	// substitutions. The substituted commands are not checked by the policy.
	AllowSubstitution bool
}

// PolicyDecision is the policy verdict of a command.
type PolicyDecision struct {
	Allowed       bool
	MatchedRule   string
	Reason        string
	Command       string
	PolicyVersion uint64
}

// PathFailure is a workspace path that couldn't be restored.
type PathFailure struct {
	Path   string
	Reason string
}

// RestoreReport is the result of rolling back the workspace.
type RestoreReport struct {
	SnapshotID string
	Restored   []string
	Removed    []string
	Failed     []PathFailure
}

// RunResult is the result of a run.
type RunResult struct {
	CorrelationID string
	// State is the execution outcome.
	State RunState
	// Closure is committed or rolled-back, empty when the command didn't execute.
	Closure         RunState
	Decision        PolicyDecision
	ExitCode        *int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Limits          []LimitEntry
	Restore         *RestoreReport
	Duration        time.Duration
}

// Committed returns true if the run changes were kept in the workspace.
func (r RunResult) Committed() bool { return r.Closure == RunStateCommitted }

// Diverged returns true if the rollback couldn't restore every path.
func (r RunResult) Diverged() bool { return r.Restore != nil && len(r.Restore.Failed) > 0 }

// SequenceResult is the result of running several requests in order.
type SequenceResult struct {
	Results []RunResult
	// FailedIndex is the first request that didn't commit, -1 when all committed.
	FailedIndex int
}

// OK returns true if every request committed.
func (s SequenceResult) OK() bool { return s.FailedIndex < 0 }

// Run is a run history entry.
type Run struct {
	CorrelationID string
	WorkspaceRoot string
	Command       string
	State         RunState
	Outcome       RunState
	ExitCode      *int
	Error         string
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// ListRunsOpts are the options for listing runs.
type ListRunsOpts struct {
	// AllWorkspaces lists the runs of every workspace, not only the client one.
	AllWorkspaces bool
	// Limit is the max number of runs, zero means all.
	Limit int
}

// AuditEvent is an audit log record.
type AuditEvent struct {
	Seq           uint64
	RunSeq        uint64
	Timestamp     time.Time
	Kind          string
	CorrelationID string
	Command       string
	Decision      string
	MatchedRule   string
	State         RunState
	ExitCode      *int
	SnapshotID    string
	Error         string
	Hash          string
}

// AuditReport is the result of verifying the audit log.
type AuditReport struct {
	Events  int
	LastSeq uint64
	Runs    int
}

// CheckStatus is the status of a preflight check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = CheckStatus(model.CheckStatusOK)
	CheckStatusWarning CheckStatus = CheckStatus(model.CheckStatusWarning)
	CheckStatusError   CheckStatus = CheckStatus(model.CheckStatusError)
)

// CheckResult is a preflight check result.
type CheckResult struct {
	ID        string
	Component string
	Message   string
	Status    CheckStatus
}

func toInternalRequest(r CommandRequest) model.CommandRequest {
	return model.CommandRequest{
		Command: r.Command,
		Args:    r.Args,
		Shell:   r.Shell,
		Line:    r.Line,
		Env:     r.Env,
		Paths:   r.Paths,
		Timeout: r.Timeout,
	}
}

func toInternalLimits(l Limits) model.RequestedLimits {
	return model.RequestedLimits{MemoryBytes: l.MemoryBytes, CPUs: l.CPUs, PIDs: l.PIDs}
}

func toInternalRules(rs []PolicyRule) []model.PolicyRule {
	result := make([]model.PolicyRule, 0, len(rs))
	for _, r := range rs {
		result = append(result, model.PolicyRule{Name: r.Name, Command: r.Command, Pattern: r.Pattern, Expr: r.Expr})
	}
	return result
}

func toInternalRuleSet(p PolicyRuleSet) model.PolicyRuleSet {
	return model.PolicyRuleSet{
		Allow:         toInternalRules(p.Allow),
		Deny:          toInternalRules(p.Deny),
		EnvAllowlist:  p.EnvAllowlist,
		WorkingSubdir: p.WorkingSubdir,
		StrictEnv:     p.StrictEnv,

		AllowSubstitution: p.AllowSubstitution,
	}
}

func fromInternalDecision(d model.PolicyDecision) PolicyDecision {
	return PolicyDecision{
		Allowed:       d.Allowed(),
		MatchedRule:   d.MatchedRule,
		Reason:        d.Reason,
		Command:       d.Command,
		PolicyVersion: d.PolicyVersion,
	}
}

func fromInternalRestore(r *model.RestoreReport) *RestoreReport {
	if r == nil {
		return nil
	}

	res := &RestoreReport{
		SnapshotID: r.SnapshotID,
		Restored:   r.Restored,
		Removed:    r.Removed,
	}
	for _, f := range r.Failed {
		res.Failed = append(res.Failed, PathFailure{Path: f.Path, Reason: f.Reason})
	}
	return res
}

func fromInternalRunResult(r model.RunResult) RunResult {
	res := RunResult{
		CorrelationID:   r.CorrelationID,
		State:           RunState(r.State),
		Closure:         RunState(r.Closure),
		Decision:        fromInternalDecision(r.Decision),
		ExitCode:        r.ExitCode,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		StdoutTruncated: r.StdoutTruncated,
		StderrTruncated: r.StderrTruncated,
		Restore:         fromInternalRestore(r.Restore),
		Duration:        r.Duration,
	}
	for _, e := range r.Limits.Entries {
		res.Limits = append(res.Limits, LimitEntry{Kind: string(e.Kind), Value: e.Value, Enforced: e.Enforced, Reason: e.Reason})
	}
	return res
}

func fromInternalSequence(s model.SequenceResult) SequenceResult {
	res := SequenceResult{FailedIndex: s.FailedIndex}
	for _, r := range s.Results {
		res.Results = append(res.Results, fromInternalRunResult(r))
	}
	return res
}

func fromInternalRun(r model.Run) Run {
	return Run{
		CorrelationID: r.CorrelationID,
		WorkspaceRoot: r.WorkspaceRoot,
		Command:       r.Request.CommandLine(),
		State:         RunState(r.State),
		Outcome:       RunState(r.Outcome),
		ExitCode:      r.ExitCode,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func fromInternalAuditEvent(e model.AuditEvent) AuditEvent {
	return AuditEvent{
		Seq:           e.Seq,
		RunSeq:        e.RunSeq,
		Timestamp:     e.Timestamp,
		Kind:          string(e.Kind),
		CorrelationID: e.CorrelationID,
		Command:       e.Command,
		Decision:      string(e.Decision),
		MatchedRule:   e.MatchedRule,
		State:         RunState(e.State),
		ExitCode:      e.ExitCode,
		SnapshotID:    e.SnapshotID,
		Error:         e.Error,
		Hash:          e.Hash,
	}
}

func fromInternalChecks(cs []model.CheckResult) []CheckResult {
	result := make([]CheckResult, 0, len(cs))
	for _, c := range cs {
		result = append(result, CheckResult{ID: c.ID, Component: c.Component, Message: c.Message, Status: CheckStatus(c.Status)})
	}
	return result
}
