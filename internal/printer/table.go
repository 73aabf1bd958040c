package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// TablePrinter prints run information in a human readable format.
type TablePrinter struct {
	writer io.Writer
	now    func() time.Time
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w, now: time.Now}
}

// PrintRunResult prints the detailed result of a run.
func (t *TablePrinter) PrintRunResult(res model.RunResult) error {
	fmt.Fprintf(t.writer, "Run:        %s\n", res.CorrelationID)
	fmt.Fprintf(t.writer, "State:      %s\n", res.State)
	if res.Closure != "" {
		fmt.Fprintf(t.writer, "Closure:    %s\n", res.Closure)
	}
	fmt.Fprintf(t.writer, "Policy:     %s\n", formatDecision(res.Decision))

	if res.ExitCode != nil {
		fmt.Fprintf(t.writer, "Exit code:  %d\n", *res.ExitCode)
	}
	if res.Duration > 0 {
		fmt.Fprintf(t.writer, "Duration:   %s\n", res.Duration.Round(time.Millisecond))
	}

	for _, e := range res.Limits.Entries {
		fmt.Fprintf(t.writer, "Limit:      %s\n", formatLimit(e))
	}

	if res.Restore != nil {
		fmt.Fprintf(t.writer, "Restored:   %d paths, %d removed\n", len(res.Restore.Restored), len(res.Restore.Removed))
		for _, f := range res.Restore.Failed {
			fmt.Fprintf(t.writer, "Diverged:   %s (%s)\n", f.Path, f.Reason)
		}
	}

	if res.Stdout != "" {
		fmt.Fprintf(t.writer, "\n--- stdout%s ---\n%s\n", truncatedMark(res.StdoutTruncated), strings.TrimRight(res.Stdout, "\n"))
	}
	if res.Stderr != "" {
		fmt.Fprintf(t.writer, "\n--- stderr%s ---\n%s\n", truncatedMark(res.StderrTruncated), strings.TrimRight(res.Stderr, "\n"))
	}

	return nil
}

// PrintSequenceResult prints a row per executed request of a sequence.
func (t *TablePrinter) PrintSequenceResult(res model.SequenceResult) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "#\tRUN\tSTATE\tCLOSURE\tEXIT")
	for i, r := range res.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, r.CorrelationID, r.State, orDash(string(r.Closure)), formatExitCode(r.ExitCode))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !res.OK() {
		fmt.Fprintf(t.writer, "\nSequence stopped at request %d\n", res.FailedIndex)
	}

	return nil
}

// PrintRunList prints the run history in a table format.
func (t *TablePrinter) PrintRunList(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tCOMMAND\tOUTCOME\tSTATE\tEXIT\tAGE")
	now := t.now()
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CorrelationID,
			shorten(r.Request.CommandLine(), 40),
			orDash(string(r.Outcome)),
			r.State,
			formatExitCode(r.ExitCode),
			formatAge(r.CreatedAt, now),
		)
	}

	return nil
}

// PrintAuditEvents prints audit events in a table format.
func (t *TablePrinter) PrintAuditEvents(events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "SEQ\tRUN\tRUN SEQ\tKIND\tTIME\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", e.Seq, e.CorrelationID, e.RunSeq, e.Kind, formatEventTime(e.Timestamp), auditDetail(e))
	}

	return nil
}

// PrintPolicyDecision prints a policy dry-run decision.
func (t *TablePrinter) PrintPolicyDecision(d model.PolicyDecision) error {
	fmt.Fprintf(t.writer, "Command:    %s\n", d.Command)
	fmt.Fprintf(t.writer, "Verdict:    %s\n", d.Verdict)
	fmt.Fprintf(t.writer, "Rule:       %s\n", orDash(d.MatchedRule))
	fmt.Fprintf(t.writer, "Reason:     %s\n", d.Reason)
	fmt.Fprintf(t.writer, "Version:    %d\n", d.PolicyVersion)
	return nil
}

// PrintChecks prints preflight check results with a summary.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	component := ""
	for _, r := range results {
		if r.Component != component {
			component = r.Component
			fmt.Fprintf(t.writer, "\nChecking %s...\n", component)
		}
		fmt.Fprintf(t.writer, "  %s %-20s %s\n", statusIcon(r.Status), r.ID, r.Message)
	}

	fmt.Fprintln(t.writer)
	_, warnings, errors := model.CountByStatus(results)
	if warnings == 0 && errors == 0 {
		fmt.Fprintln(t.writer, "All checks passed!")
		return nil
	}

	var summary []string
	if errors > 0 {
		summary = append(summary, fmt.Sprintf("%d error(s)", errors))
	}
	if warnings > 0 {
		summary = append(summary, fmt.Sprintf("%d warning(s)", warnings))
	}
	fmt.Fprintln(t.writer, strings.Join(summary, ", "))

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func formatDecision(d model.PolicyDecision) string {
	if d.MatchedRule == "" {
		return fmt.Sprintf("%s (%s)", d.Verdict, d.Reason)
	}
	return fmt.Sprintf("%s by %q (%s)", d.Verdict, d.MatchedRule, d.Reason)
}

func formatLimit(e model.LimitEntry) string {
	var value string
	switch e.Kind {
	case model.LimitKindMemory:
		value = formatMemory(e.Value)
	case model.LimitKindCPU:
		value = fmt.Sprintf("%.2f", float64(e.Value)/1e9)
	default:
		value = fmt.Sprintf("%d", e.Value)
	}

	if e.Enforced {
		return fmt.Sprintf("%s=%s enforced", e.Kind, value)
	}
	return fmt.Sprintf("%s=%s advisory (%s)", e.Kind, value, e.Reason)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func auditDetail(e model.AuditEvent) string {
	switch e.Kind {
	case model.AuditEventKindPolicyDecision:
		return fmt.Sprintf("%s %q", e.Decision, shorten(e.Command, 40))
	case model.AuditEventKindSnapshotCreated:
		return fmt.Sprintf("%s (%d files)", e.SnapshotID, e.Files)
	case model.AuditEventKindExecutionStart:
		return fmt.Sprintf("%s at %s", e.Image, e.MountDest)
	case model.AuditEventKindExecutionEnd:
		return fmt.Sprintf("%s exit=%s", e.State, formatExitCode(e.ExitCode))
	case model.AuditEventKindSnapshotRestored:
		return fmt.Sprintf("%d restored, %d removed", max(e.RestoredCount, len(e.RestoredPaths)), max(e.RemovedCount, len(e.RemovedPaths)))
	case model.AuditEventKindRestoreDivergence:
		return fmt.Sprintf("%d paths diverged", max(e.FailedCount, len(e.FailedPaths)))
	case model.AuditEventKindSnapshotDiscarded:
		return fmt.Sprintf("%s %s", e.SnapshotID, e.Reason)
	case model.AuditEventKindRunClosed:
		if e.Error != "" {
			return fmt.Sprintf("%s: %s", e.State, e.Error)
		}
		return string(e.State)
	}
	return e.Reason
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}

func truncatedMark(truncated bool) string {
	if truncated {
		return " (truncated)"
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
