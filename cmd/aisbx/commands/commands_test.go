package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

func TestRootCommandRequestedLimits(t *testing.T) {
	tests := map[string]struct {
		root      RootCommand
		expLimits model.RequestedLimits
		expErr    bool
	}{
		"Human memory sizes should be parsed.": {
			root:      RootCommand{Memory: "512m", CPUs: 1.5, PIDs: 128},
			expLimits: model.RequestedLimits{MemoryBytes: 512 * 1024 * 1024, CPUs: 1.5, PIDs: 128},
		},

		"An invalid memory size should fail.": {
			root:   RootCommand{Memory: "lots"},
			expErr: true,
		},

		"Negative limits should fail.": {
			root:   RootCommand{Memory: "1g", PIDs: -1},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := test.root.RequestedLimits()

			if test.expErr {
				assert.ErrorIs(t, err, model.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expLimits, got)
		})
	}
}

func TestRunCommandRequest(t *testing.T) {
	tests := map[string]struct {
		cmd    RunCommand
		expReq model.CommandRequest
	}{
		"Arguments should be a regular command.": {
			cmd:    RunCommand{command: []string{"python", "main.py"}},
			expReq: model.CommandRequest{Command: "python", Args: []string{"main.py"}, Env: map[string]string{}},
		},

		"Shell mode should join the arguments as a line.": {
			cmd:    RunCommand{command: []string{"echo", "hi", "&&", "ls"}, shell: true, envSpecs: []string{"A=1"}},
			expReq: model.CommandRequest{Shell: true, Line: "echo hi && ls", Env: map[string]string{"A": "1"}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := test.cmd.request()
			require.NoError(t, err)
			assert.Equal(t, test.expReq, got)
		})
	}
}

func TestResultError(t *testing.T) {
	tests := map[string]struct {
		res    model.RunResult
		expErr error
		expMsg string
	}{
		"A committed run should not fail.": {
			res: model.RunResult{State: model.RunStateSucceeded, Closure: model.RunStateCommitted},
		},

		"A rejected run should fail with a policy error.": {
			res:    model.RunResult{CorrelationID: "r1", State: model.RunStatePolicyRejected},
			expErr: model.ErrPolicyRejected,
		},

		"A diverged rollback should fail with a divergence error.": {
			res: model.RunResult{
				CorrelationID: "r1",
				State:         model.RunStateFailed,
				Closure:       model.RunStateRolledBack,
				Restore:       &model.RestoreReport{Failed: []model.PathFailure{{Path: "a"}}},
			},
			expErr: model.ErrRestoreDivergence,
		},

		"A rolled back run should fail.": {
			res:    model.RunResult{CorrelationID: "r1", State: model.RunStateTimedOut, Closure: model.RunStateRolledBack},
			expMsg: "run r1 timed-out, workspace rolled back",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := resultError(test.res)

			switch {
			case test.expErr != nil:
				assert.ErrorIs(t, err, test.expErr)
			case test.expMsg != "":
				assert.EqualError(t, err, test.expMsg)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestSequenceCommandReadFile(t *testing.T) {
	root := &RootCommand{Stdin: strings.NewReader("echo a\n\n# comment\n  python b.py  \n")}
	c := SequenceCommand{rootCmd: root, file: "-"}

	lines, err := c.readFile()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo a", "python b.py"}, lines)
}
