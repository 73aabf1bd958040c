package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// JSONPrinter prints run information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type decisionOutput struct {
	Verdict       string `json:"verdict"`
	MatchedRule   string `json:"matched_rule,omitempty"`
	Reason        string `json:"reason"`
	Command       string `json:"command,omitempty"`
	PolicyVersion uint64 `json:"policy_version"`
}

type restoreOutput struct {
	SnapshotID string              `json:"snapshot_id"`
	Restored   []string            `json:"restored"`
	Removed    []string            `json:"removed"`
	Failed     []model.PathFailure `json:"failed,omitempty"`
}

type runResultOutput struct {
	CorrelationID   string             `json:"correlation_id"`
	State           string             `json:"state"`
	Closure         string             `json:"closure,omitempty"`
	Decision        decisionOutput     `json:"decision"`
	ExitCode        *int               `json:"exit_code"`
	Stdout          string             `json:"stdout"`
	Stderr          string             `json:"stderr"`
	StdoutTruncated bool               `json:"stdout_truncated"`
	StderrTruncated bool               `json:"stderr_truncated"`
	Limits          []model.LimitEntry `json:"limits"`
	Restore         *restoreOutput     `json:"restore,omitempty"`
	DurationMS      int64              `json:"duration_ms"`
}

type sequenceOutput struct {
	OK          bool              `json:"ok"`
	FailedIndex *int              `json:"failed_index"`
	Results     []runResultOutput `json:"results"`
}

type runItem struct {
	CorrelationID string     `json:"correlation_id"`
	WorkspaceRoot string     `json:"workspace_root"`
	Command       string     `json:"command"`
	State         string     `json:"state"`
	Outcome       string     `json:"outcome,omitempty"`
	ExitCode      *int       `json:"exit_code"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

type checkOutput struct {
	ID        string `json:"id"`
	Component string `json:"component"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintRunResult prints a run result in JSON format.
func (j *JSONPrinter) PrintRunResult(res model.RunResult) error {
	return j.encode(mapRunResult(res))
}

// PrintSequenceResult prints a sequence result in JSON format.
func (j *JSONPrinter) PrintSequenceResult(res model.SequenceResult) error {
	out := sequenceOutput{OK: res.OK(), Results: make([]runResultOutput, 0, len(res.Results))}
	if !res.OK() {
		idx := res.FailedIndex
		out.FailedIndex = &idx
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, mapRunResult(r))
	}
	return j.encode(out)
}

// PrintRunList prints the run history in JSON format with a subset of fields.
func (j *JSONPrinter) PrintRunList(runs []model.Run) error {
	items := make([]runItem, 0, len(runs))
	for _, r := range runs {
		item := runItem{
			CorrelationID: r.CorrelationID,
			WorkspaceRoot: r.WorkspaceRoot,
			Command:       r.Request.CommandLine(),
			State:         string(r.State),
			Outcome:       string(r.Outcome),
			ExitCode:      r.ExitCode,
			Error:         r.Error,
			CreatedAt:     r.CreatedAt.UTC(),
		}
		if r.FinishedAt != nil {
			t := r.FinishedAt.UTC()
			item.FinishedAt = &t
		}
		items = append(items, item)
	}
	return j.encode(items)
}

// PrintAuditEvents prints audit events as they are stored.
func (j *JSONPrinter) PrintAuditEvents(events []model.AuditEvent) error {
	if events == nil {
		events = []model.AuditEvent{}
	}
	return j.encode(events)
}

// PrintPolicyDecision prints a policy decision in JSON format.
func (j *JSONPrinter) PrintPolicyDecision(d model.PolicyDecision) error {
	return j.encode(mapDecision(d))
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	out := make([]checkOutput, 0, len(results))
	for _, r := range results {
		out = append(out, checkOutput{ID: r.ID, Component: r.Component, Status: string(r.Status), Message: r.Message})
	}
	return j.encode(out)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mapDecision(d model.PolicyDecision) decisionOutput {
	return decisionOutput{
		Verdict:       string(d.Verdict),
		MatchedRule:   d.MatchedRule,
		Reason:        d.Reason,
		Command:       d.Command,
		PolicyVersion: d.PolicyVersion,
	}
}

func mapRunResult(res model.RunResult) runResultOutput {
	out := runResultOutput{
		CorrelationID:   res.CorrelationID,
		State:           string(res.State),
		Closure:         string(res.Closure),
		Decision:        mapDecision(res.Decision),
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		Limits:          res.Limits.Entries,
		DurationMS:      res.Duration.Milliseconds(),
	}
	if out.Limits == nil {
		out.Limits = []model.LimitEntry{}
	}

	if res.Restore != nil {
		out.Restore = &restoreOutput{
			SnapshotID: res.Restore.SnapshotID,
			Restored:   nonNil(res.Restore.Restored),
			Removed:    nonNil(res.Restore.Removed),
			Failed:     res.Restore.Failed,
		}
	}

	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
