package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/memory"
)

func newRun(id, root string, created time.Time) model.Run {
	return *model.NewRun(id, root, model.CommandRequest{Command: "echo", Args: []string{"hi"}}, created)
}

func TestRepositoryRuns(t *testing.T) {
	now := time.Now().UTC()

	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo *memory.Repository) error
		expErr  error
	}{
		"Saving and getting a run should work.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.SaveRun(ctx, newRun("run-1", "/ws", now)))

				got, err := repo.GetRun(ctx, "run-1")
				require.NoError(t, err)
				assert.Equal(t, "/ws", got.WorkspaceRoot)
				assert.Equal(t, model.RunStateCreated, got.State)
				return nil
			},
		},

		"Saving an existing run should replace it.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				r := newRun("run-1", "/ws", now)
				require.NoError(t, repo.SaveRun(ctx, r))
				r.State = model.RunStatePolicyRejected
				require.NoError(t, repo.SaveRun(ctx, r))

				got, err := repo.GetRun(ctx, "run-1")
				require.NoError(t, err)
				assert.Equal(t, model.RunStatePolicyRejected, got.State)
				return nil
			},
		},

		"Getting a missing run should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				_, err := repo.GetRun(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Saving a run without correlation ID should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				return repo.SaveRun(ctx, model.Run{})
			},
			expErr: model.ErrNotValid,
		},

		"Listing runs should return them newest first and filtered.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.SaveRun(ctx, newRun("run-1", "/ws/a", now.Add(-time.Hour))))
				require.NoError(t, repo.SaveRun(ctx, newRun("run-2", "/ws/b", now.Add(-time.Minute))))
				require.NoError(t, repo.SaveRun(ctx, newRun("run-3", "/ws/a", now)))

				all, err := repo.ListRuns(ctx, storage.ListRunsOpts{})
				require.NoError(t, err)
				require.Len(t, all, 3)
				assert.Equal(t, "run-3", all[0].CorrelationID)
				assert.Equal(t, "run-1", all[2].CorrelationID)

				ws, err := repo.ListRuns(ctx, storage.ListRunsOpts{WorkspaceRoot: "/ws/a", Limit: 1})
				require.NoError(t, err)
				require.Len(t, ws, 1)
				assert.Equal(t, "run-3", ws[0].CorrelationID)
				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
			require.NoError(t, err)

			err = test.actions(context.Background(), t, repo)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRepositoryAuditEvents(t *testing.T) {
	ctx := context.Background()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	require.NoError(t, repo.AppendAuditEvent(ctx, model.AuditEvent{Seq: 2, CorrelationID: "b", Kind: model.AuditEventKindPolicyDecision}))
	require.NoError(t, repo.AppendAuditEvent(ctx, model.AuditEvent{Seq: 1, CorrelationID: "a", Kind: model.AuditEventKindPolicyDecision}))
	require.NoError(t, repo.AppendAuditEvent(ctx, model.AuditEvent{Seq: 3, CorrelationID: "a", Kind: model.AuditEventKindRunClosed}))

	err = repo.AppendAuditEvent(ctx, model.AuditEvent{Seq: 3, CorrelationID: "a"})
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	all, err := repo.ListAuditEvents(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Seq)

	a, err := repo.ListAuditEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, model.AuditEventKindRunClosed, a[1].Kind)
}
