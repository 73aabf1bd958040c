package aisbx_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intaisbx "github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/test/integration/aisbx"
)

// runOutput matches the JSON output of `aisbx run --format json`.
type runOutput struct {
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"`
	Closure       string `json:"closure"`
	Decision      struct {
		Verdict     string `json:"verdict"`
		MatchedRule string `json:"matched_rule"`
	} `json:"decision"`
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Restore  *struct {
		Removed []string `json:"removed"`
	} `json:"restore"`
}

func TestIntegrationRun(t *testing.T) {
	tests := map[string]struct {
		args       []string
		expExitErr bool
		expState   string
		expClosure string
		expVerdict string
		expTree    func(t *testing.T, workspace string)
	}{
		"A succeeding command should commit its changes.": {
			args:       []string{"--shell", "--", "python -c \"open('out.txt','w').write('ok'); print('hi')\""},
			expState:   "succeeded",
			expClosure: "committed",
			expVerdict: "allow",
			expTree: func(t *testing.T, workspace string) {
				data, err := os.ReadFile(filepath.Join(workspace, "out.txt"))
				require.NoError(t, err)
				assert.Equal(t, "ok", string(data))
			},
		},

		"A failing command should roll back its changes.": {
			args:       []string{"--shell", "--", "sh -c \"echo broken > main.py; rm -f data.txt; exit 3\""},
			expExitErr: true,
			expState:   "failed",
			expClosure: "rolled-back",
			expVerdict: "allow",
			expTree: func(t *testing.T, workspace string) {
				data, err := os.ReadFile(filepath.Join(workspace, "main.py"))
				require.NoError(t, err)
				assert.Equal(t, "print('hi')\n", string(data))
				_, err = os.Stat(filepath.Join(workspace, "data.txt"))
				assert.NoError(t, err)
			},
		},

		"A timed out command should roll back its changes.": {
			args:       []string{"--run-timeout", "2s", "--shell", "--", "sh -c \"touch new.txt; sleep 30\""},
			expExitErr: true,
			expState:   "timed-out",
			expClosure: "rolled-back",
			expVerdict: "allow",
			expTree: func(t *testing.T, workspace string) {
				_, err := os.Stat(filepath.Join(workspace, "new.txt"))
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},

		"A denied command should not execute.": {
			args:       []string{"--shell", "--", "rm -rf / --no-preserve-root"},
			expExitErr: true,
			expState:   "policy-rejected",
			expVerdict: "deny",
			expTree: func(t *testing.T, workspace string) {
				_, err := os.Stat(filepath.Join(workspace, "main.py"))
				assert.NoError(t, err)
			},
		},
	}

	config := intaisbx.NewConfig(t)
	docker := intaisbx.NewDockerHelper(t)
	t.Cleanup(func() { docker.CleanupAllContainers(t) })

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			env := intaisbx.NewEnv(t, map[string]string{
				"main.py":  "print('hi')\n",
				"data.txt": "data",
			})

			args := append([]string{"run", "--format", "json"}, test.args...)
			stdout, stderr, err := env.Run(ctx, config, args...)
			if test.expExitErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err, "stderr: %s", stderr)
			}

			var out runOutput
			require.NoError(t, json.Unmarshal(stdout, &out), "stdout: %s, stderr: %s", stdout, stderr)
			assert.Equal(t, test.expState, out.State)
			assert.Equal(t, test.expClosure, out.Closure)
			assert.Equal(t, test.expVerdict, out.Decision.Verdict)

			test.expTree(t, env.Workspace)
			docker.RequireNoRunContainers(t, out.CorrelationID)
		})
	}
}

func TestIntegrationAuditTrail(t *testing.T) {
	config := intaisbx.NewConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env := intaisbx.NewEnv(t, map[string]string{"main.py": "print('hi')\n"})

	stdout, stderr, err := env.Run(ctx, config, "run", "--format", "json", "--", "python", "main.py")
	require.NoError(t, err, "stderr: %s", stderr)
	var out runOutput
	require.NoError(t, json.Unmarshal(stdout, &out))
	assert.Equal(t, "hi\n", out.Stdout)

	stdout, stderr, err = env.Run(ctx, config, "audit", "list", "--format", "json", out.CorrelationID)
	require.NoError(t, err, "stderr: %s", stderr)
	var events []struct {
		Kind   string `json:"kind"`
		RunSeq uint64 `json:"run_seq"`
	}
	require.NoError(t, json.Unmarshal(stdout, &events))
	kinds := []string{}
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.RunSeq)
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{"policy-decision", "snapshot-created", "execution-start", "execution-end", "snapshot-discarded", "run-closed"}, kinds)

	_, stderr, err = env.Run(ctx, config, "audit", "verify")
	require.NoError(t, err, "stderr: %s", stderr)
}
