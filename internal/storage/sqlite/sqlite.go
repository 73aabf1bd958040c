package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.RunRepository and storage.AuditEventRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveRun creates or replaces a run.
func (r *Repository) SaveRun(ctx context.Context, run model.Run) error {
	if run.CorrelationID == "" {
		return fmt.Errorf("correlation id is required: %w", model.ErrNotValid)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("could not marshal run: %w", err)
	}

	var exitCode, finishedAt *int64
	if run.ExitCode != nil {
		c := int64(*run.ExitCode)
		exitCode = &c
	}
	if run.FinishedAt != nil {
		u := run.FinishedAt.UnixNano()
		finishedAt = &u
	}
	snapshotID := ""
	if run.Snapshot != nil {
		snapshotID = run.Snapshot.ID
	}

	query := `
		INSERT INTO runs (
			correlation_id, workspace_root, command,
			state, outcome, exit_code, snapshot_id,
			created_at, finished_at, data
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id) DO UPDATE SET
			state = excluded.state,
			outcome = excluded.outcome,
			exit_code = excluded.exit_code,
			snapshot_id = excluded.snapshot_id,
			finished_at = excluded.finished_at,
			data = excluded.data
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		run.CorrelationID,
		run.WorkspaceRoot,
		run.Request.CommandLine(),
		run.State,
		run.Outcome,
		exitCode,
		snapshotID,
		run.CreatedAt.UnixNano(),
		finishedAt,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("could not save run: %w", err)
	}

	r.logger.Debugf("Saved run in repository: %s", run.CorrelationID)
	return nil
}

// GetRun retrieves a run by correlation ID.
func (r *Repository) GetRun(ctx context.Context, correlationID string) (*model.Run, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE correlation_id = ?`, correlationID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", correlationID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run: %w", err)
	}

	run, err := unmarshalRun(data)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the runs newest first.
func (r *Repository) ListRuns(ctx context.Context, opts storage.ListRunsOpts) ([]model.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.WorkspaceRoot != "" {
		where = append(where, "workspace_root = ?")
		args = append(args, opts.WorkspaceRoot)
	}

	query := `SELECT data FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, correlation_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		run, err := unmarshalRun(data)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// AppendAuditEvent indexes an audit event.
func (r *Repository) AppendAuditEvent(ctx context.Context, e model.AuditEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not marshal audit event: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events (seq, correlation_id, run_seq, kind, ts, data) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(e.Seq), e.CorrelationID, int64(e.RunSeq), e.Kind, e.Timestamp.UnixNano(), string(data),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: audit_events.") {
			return fmt.Errorf("audit event %d already exists: %w", e.Seq, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert audit event: %w", err)
	}

	return nil
}

// ListAuditEvents returns the indexed audit events ordered by sequence.
func (r *Repository) ListAuditEvents(ctx context.Context, correlationID string) ([]model.AuditEvent, error) {
	query := `SELECT data FROM audit_events ORDER BY seq`
	var args []any
	if correlationID != "" {
		query = `SELECT data FROM audit_events WHERE correlation_id = ? ORDER BY seq`
		args = append(args, correlationID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		var e model.AuditEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("could not unmarshal audit event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func unmarshalRun(data string) (model.Run, error) {
	var run model.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return model.Run{}, fmt.Errorf("could not unmarshal run: %w", err)
	}
	return run, nil
}
