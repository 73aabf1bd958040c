package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/printer"
)

func runResultFixture() model.RunResult {
	code := 1
	return model.RunResult{
		CorrelationID: "01JABCDEFGHJKMNPQRSTVWXYZ0",
		State:         model.RunStateFailed,
		Closure:       model.RunStateRolledBack,
		Decision: model.PolicyDecision{
			Verdict:     model.PolicyVerdictAllow,
			MatchedRule: "command=python",
			Reason:      "allowed by rule",
		},
		ExitCode:        &code,
		Stdout:          "partial output",
		StdoutTruncated: true,
		Limits: model.ResourceLimitProfile{Entries: []model.LimitEntry{
			{Kind: model.LimitKindMemory, Value: 512 * 1024 * 1024, Enforced: true},
			{Kind: model.LimitKindPIDs, Value: 128, Reason: "pids controller unavailable"},
		}},
		Restore:  &model.RestoreReport{SnapshotID: "snap", Restored: []string{"main.py"}, Removed: []string{"out.txt"}},
		Duration: 1500 * time.Millisecond,
	}
}

func TestTablePrinterPrintRunResult(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintRunResult(runResultFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "State:      failed")
	assert.Contains(t, out, "Closure:    rolled-back")
	assert.Contains(t, out, "Exit code:  1")
	assert.Contains(t, out, "Limit:      memory=512MiB enforced")
	assert.Contains(t, out, "Limit:      pids=128 advisory (pids controller unavailable)")
	assert.Contains(t, out, "Restored:   1 paths, 1 removed")
	assert.Contains(t, out, "--- stdout (truncated) ---\npartial output")
}

func TestJSONPrinterPrintRunResult(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintRunResult(runResultFixture())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "failed", got["state"])
	assert.Equal(t, "rolled-back", got["closure"])
	assert.Equal(t, float64(1), got["exit_code"])
	assert.Equal(t, float64(1500), got["duration_ms"])
	assert.Equal(t, true, got["stdout_truncated"])
	assert.Len(t, got["limits"], 2)
}

func TestPrintSequenceResult(t *testing.T) {
	res := model.SequenceResult{
		Results:     []model.RunResult{{CorrelationID: "a", State: model.RunStateSucceeded, Closure: model.RunStateCommitted}, runResultFixture()},
		FailedIndex: 1,
	}

	var tbuf bytes.Buffer
	require.NoError(t, printer.NewTablePrinter(&tbuf).PrintSequenceResult(res))
	assert.Contains(t, tbuf.String(), "Sequence stopped at request 1")

	var jbuf bytes.Buffer
	require.NoError(t, printer.NewJSONPrinter(&jbuf).PrintSequenceResult(res))
	var got map[string]any
	require.NoError(t, json.Unmarshal(jbuf.Bytes(), &got))
	assert.Equal(t, false, got["ok"])
	assert.Equal(t, float64(1), got["failed_index"])
}

func TestTablePrinterPrintChecks(t *testing.T) {
	tests := map[string]struct {
		results []model.CheckResult
		expOut  []string
	}{
		"All ok checks should print a success summary.": {
			results: []model.CheckResult{{ID: "docker_daemon", Component: "engine", Status: model.CheckStatusOK, Message: "reachable"}},
			expOut:  []string{"Checking engine...", "OK docker_daemon", "All checks passed!"},
		},

		"Failed checks should be counted in the summary.": {
			results: []model.CheckResult{
				{ID: "docker_daemon", Component: "engine", Status: model.CheckStatusError, Message: "unreachable"},
				{ID: "pids_controller", Component: "limits", Status: model.CheckStatusWarning, Message: "advisory"},
			},
			expOut: []string{"XX docker_daemon", "Checking limits...", "!! pids_controller", "1 error(s), 1 warning(s)"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printer.NewTablePrinter(&buf).PrintChecks(test.results)
			require.NoError(t, err)

			for _, exp := range test.expOut {
				assert.Contains(t, buf.String(), exp)
			}
		})
	}
}

func TestTablePrinterPrintAuditEvents(t *testing.T) {
	code := 0
	events := []model.AuditEvent{
		{Seq: 1, RunSeq: 1, CorrelationID: "r1", Kind: model.AuditEventKindPolicyDecision, Decision: model.PolicyVerdictAllow, Command: "echo hi"},
		{Seq: 2, RunSeq: 2, CorrelationID: "r1", Kind: model.AuditEventKindExecutionEnd, State: model.RunStateSucceeded, ExitCode: &code},
	}

	var buf bytes.Buffer
	err := printer.NewTablePrinter(&buf).PrintAuditEvents(events)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `allow "echo hi"`)
	assert.Contains(t, out, "succeeded exit=0")
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
