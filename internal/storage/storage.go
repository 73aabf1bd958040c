package storage

import (
	"context"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// RunRepository is the interface for run history persistence.
type RunRepository interface {
	// SaveRun creates or replaces the run identified by its correlation ID.
	SaveRun(ctx context.Context, r model.Run) error
	GetRun(ctx context.Context, correlationID string) (*model.Run, error)
	// ListRuns returns the runs newest first.
	ListRuns(ctx context.Context, opts ListRunsOpts) ([]model.Run, error)
}

// ListRunsOpts are the options to filter listed runs.
type ListRunsOpts struct {
	// WorkspaceRoot filters by workspace when not empty.
	WorkspaceRoot string
	// Limit is the max number of runs returned, zero means all.
	Limit int
}

// AuditEventRepository is a queryable index of audit events. The JSONL audit
// file is the source of truth, this is a secondary sink.
type AuditEventRepository interface {
	AppendAuditEvent(ctx context.Context, e model.AuditEvent) error
	// ListAuditEvents returns the events ordered by sequence, filtered by
	// correlation ID when not empty.
	ListAuditEvents(ctx context.Context, correlationID string) ([]model.AuditEvent, error)
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name RunRepository --structname MockRunRepository
//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name AuditEventRepository --structname MockAuditEventRepository
