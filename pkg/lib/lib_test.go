package lib_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/pkg/lib"
)

// newTestClient creates a fake engine client with an isolated workspace and data dir.
func newTestClient(t *testing.T) *lib.Client {
	t.Helper()

	client, err := lib.New(context.Background(), lib.Config{
		WorkspaceRoot: t.TempDir(),
		DataDir:       t.TempDir(),
		Engine:        lib.EngineFake,
		AuditKey:      []byte("test"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		cfg   func(t *testing.T) lib.Config
		expIs error
	}{
		"A valid config should create the client.": {
			cfg: func(t *testing.T) lib.Config {
				return lib.Config{WorkspaceRoot: t.TempDir(), DataDir: t.TempDir(), Engine: lib.EngineFake}
			},
		},

		"A missing workspace root should fail.": {
			cfg: func(t *testing.T) lib.Config {
				return lib.Config{DataDir: t.TempDir(), Engine: lib.EngineFake}
			},
			expIs: lib.ErrConfiguration,
		},

		"An unsupported engine should fail.": {
			cfg: func(t *testing.T) lib.Config {
				return lib.Config{WorkspaceRoot: t.TempDir(), DataDir: t.TempDir(), Engine: "vm"}
			},
			expIs: lib.ErrConfiguration,
		},

		"A policy rule without matchers should fail.": {
			cfg: func(t *testing.T) lib.Config {
				return lib.Config{
					WorkspaceRoot: t.TempDir(),
					DataDir:       t.TempDir(),
					Engine:        lib.EngineFake,
					Policy:        &lib.PolicyRuleSet{Allow: []lib.PolicyRule{{Name: "empty"}}},
				}
			},
			expIs: lib.ErrNotValid,
		},

		"An invalid busy policy should fail.": {
			cfg: func(t *testing.T) lib.Config {
				return lib.Config{WorkspaceRoot: t.TempDir(), DataDir: t.TempDir(), Engine: lib.EngineFake, BusyPolicy: "drop"}
			},
			expIs: lib.ErrConfiguration,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			client, err := lib.New(context.Background(), test.cfg(t))

			if test.expIs != nil {
				assert.ErrorIs(t, err, test.expIs)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, client.Close())
		})
	}
}

func TestSubmitRun(t *testing.T) {
	tests := map[string]struct {
		req        lib.CommandRequest
		expErrIs   error
		expState   lib.RunState
		expClosure lib.RunState
		expAllowed bool
		expKinds   []string
	}{
		"An allowed command should commit.": {
			req:        lib.CommandRequest{Command: "python", Args: []string{"main.py"}},
			expState:   lib.RunStateSucceeded,
			expClosure: lib.RunStateCommitted,
			expAllowed: true,
			expKinds:   []string{"policy-decision", "snapshot-created", "execution-start", "execution-end", "snapshot-discarded", "run-closed"},
		},

		"A denied command should be rejected without executing.": {
			req:      lib.CommandRequest{Shell: true, Line: "rm -rf / --no-preserve-root"},
			expState: lib.RunStatePolicyRejected,
			expKinds: []string{"policy-decision", "run-closed"},
		},

		"An empty request should fail.": {
			req:      lib.CommandRequest{},
			expErrIs: lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()
			client := newTestClient(t)

			res, err := client.SubmitRun(ctx, test.req)

			if test.expErrIs != nil {
				assert.ErrorIs(err, test.expErrIs)
				return
			}
			require.NoError(err)

			assert.Equal(test.expState, res.State)
			assert.Equal(test.expClosure, res.Closure)
			assert.Equal(test.expAllowed, res.Decision.Allowed)
			assert.NotEmpty(res.CorrelationID)

			events, err := client.AuditEvents(ctx, res.CorrelationID)
			require.NoError(err)
			kinds := []string{}
			for _, e := range events {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(test.expKinds, kinds)

			run, err := client.GetRun(ctx, res.CorrelationID)
			require.NoError(err)
			assert.Equal(client.WorkspaceRoot(), run.WorkspaceRoot)
			assert.Equal(test.expState, run.Outcome)
		})
	}
}

func TestSubmitSequence(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	res, err := client.SubmitSequence(ctx, []lib.CommandRequest{
		{Command: "echo", Args: []string{"a"}},
		{Command: "curl", Args: []string{"example.com"}},
		{Command: "echo", Args: []string{"b"}},
	})
	require.NoError(t, err)

	assert.False(t, res.OK())
	assert.Equal(t, 1, res.FailedIndex)
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Committed())
	assert.Equal(t, lib.RunStatePolicyRejected, res.Results[1].State)
}

func TestPolicy(t *testing.T) {
	client := newTestClient(t)

	d, err := client.CheckPolicy("curl example.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, uint64(1), d.PolicyVersion)

	_, err = client.UpdatePolicy(lib.PolicyRuleSet{Allow: []lib.PolicyRule{{}}})
	assert.ErrorIs(t, err, lib.ErrNotValid)

	v, err := client.UpdatePolicy(lib.PolicyRuleSet{Allow: []lib.PolicyRule{{Name: "curl", Command: "curl"}}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	d, err = client.CheckPolicy("curl example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "curl", d.MatchedRule)
	assert.Equal(t, uint64(2), d.PolicyVersion)
}

func TestHistoryAndAudit(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.AuditEvents(ctx, "")
	assert.ErrorIs(t, err, lib.ErrNotFound)

	for _, line := range []string{"echo a", "echo b", "curl x"} {
		_, err := client.SubmitRun(ctx, lib.CommandRequest{Shell: true, Line: line})
		require.NoError(t, err)
	}

	runs, err := client.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = client.ListRuns(ctx, &lib.ListRunsOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, lib.RunStatePolicyRejected, runs[0].State)

	_, err = client.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, lib.ErrNotFound)

	report, err := client.VerifyAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Runs)
	assert.Equal(t, uint64(report.Events), report.LastSeq)
}

func TestDoctor(t *testing.T) {
	client := newTestClient(t)

	results := client.Doctor(context.Background())

	ids := map[string]lib.CheckStatus{}
	for _, r := range results {
		ids[r.ID] = r.Status
	}
	assert.Equal(t, lib.CheckStatusOK, ids["fake_engine"])
	assert.Equal(t, lib.CheckStatusOK, ids["policy"])
	assert.Contains(t, ids, "cgroup_hierarchy")
}
