package printer

import "github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"

// Printer knows how to print run information in different formats.
type Printer interface {
	PrintRunResult(res model.RunResult) error
	PrintSequenceResult(res model.SequenceResult) error
	PrintRunList(runs []model.Run) error
	PrintAuditEvents(events []model.AuditEvent) error
	PrintPolicyDecision(d model.PolicyDecision) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
