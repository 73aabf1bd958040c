package model

import "time"

// AuditEventKind is the kind of an audit event.
type AuditEventKind string

const (
	AuditEventKindPolicyDecision    AuditEventKind = "policy-decision"
	AuditEventKindSnapshotCreated   AuditEventKind = "snapshot-created"
	AuditEventKindExecutionStart    AuditEventKind = "execution-start"
	AuditEventKindExecutionEnd      AuditEventKind = "execution-end"
	AuditEventKindRollback          AuditEventKind = "rollback"
	AuditEventKindSnapshotRestored  AuditEventKind = "snapshot-restored"
	AuditEventKindRestoreDivergence AuditEventKind = "restore-divergence"
	AuditEventKindSnapshotDiscarded AuditEventKind = "snapshot-discarded"
	AuditEventKindRunClosed         AuditEventKind = "run-closed"
)

// AuditEvent is a single append-only audit record. Only the payload fields of
// the event kind are set.
type AuditEvent struct {
	// Seq is the sequence number scoped to the audit log file.
	Seq uint64 `json:"seq"`
	// RunSeq is the contiguous sequence number scoped to the correlation ID.
	RunSeq        uint64         `json:"run_seq"`
	Timestamp     time.Time      `json:"ts"`
	Kind          AuditEventKind `json:"kind"`
	CorrelationID string         `json:"correlation_id"`

	Command       string        `json:"command,omitempty"`
	Decision      PolicyVerdict `json:"decision,omitempty"`
	MatchedRule   string        `json:"matched_rule,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	PolicyVersion uint64        `json:"policy_version,omitempty"`
	StrippedEnv   []string      `json:"stripped_env,omitempty"`
	// Paths is the workspace relative path set declared by the request.
	Paths []string `json:"paths,omitempty"`

	SnapshotID string `json:"snapshot_id,omitempty"`
	Files      int    `json:"files,omitempty"`

	Image     string       `json:"image,omitempty"`
	MountDest string       `json:"mount_dest,omitempty"`
	TimeoutMS int64        `json:"timeout_ms,omitempty"`
	Network   bool         `json:"network,omitempty"`
	Limits    []LimitEntry `json:"limits,omitempty"`
	Fallbacks []LimitKind  `json:"limits_fallback,omitempty"`

	ExitCode        *int     `json:"exit_code,omitempty"`
	DurationMS      int64    `json:"duration_ms,omitempty"`
	Stdout          string   `json:"stdout,omitempty"`
	Stderr          string   `json:"stderr,omitempty"`
	StdoutTruncated bool     `json:"stdout_truncated,omitempty"`
	StderrTruncated bool     `json:"stderr_truncated,omitempty"`
	State           RunState `json:"state,omitempty"`

	// The path lists are capped, the counts are always the totals.
	RestoredPaths  []string      `json:"restored_paths,omitempty"`
	RemovedPaths   []string      `json:"removed_paths,omitempty"`
	FailedPaths    []PathFailure `json:"failed_paths,omitempty"`
	RestoredCount  int           `json:"restored_count,omitempty"`
	RemovedCount   int           `json:"removed_count,omitempty"`
	FailedCount    int           `json:"failed_count,omitempty"`
	PathsTruncated bool          `json:"paths_truncated,omitempty"`

	Error string `json:"error,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}
