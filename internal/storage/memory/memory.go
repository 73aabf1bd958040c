package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.RunRepository and storage.AuditEventRepository.
type Repository struct {
	runs   map[string]model.Run
	events []model.AuditEvent
	seqs   map[uint64]struct{}
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		runs:   make(map[string]model.Run),
		seqs:   make(map[uint64]struct{}),
		logger: cfg.Logger,
	}, nil
}

// SaveRun creates or replaces a run.
func (r *Repository) SaveRun(ctx context.Context, run model.Run) error {
	if run.CorrelationID == "" {
		return fmt.Errorf("correlation id is required: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.CorrelationID] = run
	r.logger.Debugf("Saved run in repository: %s", run.CorrelationID)
	return nil
}

// GetRun retrieves a run by correlation ID.
func (r *Repository) GetRun(ctx context.Context, correlationID string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[correlationID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", correlationID, model.ErrNotFound)
	}
	return &run, nil
}

// ListRuns returns the runs newest first.
func (r *Repository) ListRuns(ctx context.Context, opts storage.ListRunsOpts) ([]model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]model.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if opts.WorkspaceRoot != "" && run.WorkspaceRoot != opts.WorkspaceRoot {
			continue
		}
		runs = append(runs, run)
	}

	slices.SortFunc(runs, func(a, b model.Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.CorrelationID, a.CorrelationID)
	})

	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}

	return runs, nil
}

// AppendAuditEvent indexes an audit event.
func (r *Repository) AppendAuditEvent(ctx context.Context, e model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seqs[e.Seq]; ok {
		return fmt.Errorf("audit event %d already exists: %w", e.Seq, model.ErrAlreadyExists)
	}
	r.seqs[e.Seq] = struct{}{}
	r.events = append(r.events, e)
	return nil
}

// ListAuditEvents returns the indexed audit events ordered by sequence.
func (r *Repository) ListAuditEvents(ctx context.Context, correlationID string) ([]model.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []model.AuditEvent
	for _, e := range r.events {
		if correlationID != "" && e.CorrelationID != correlationID {
			continue
		}
		events = append(events, e)
	}

	slices.SortFunc(events, func(a, b model.AuditEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return events, nil
}
