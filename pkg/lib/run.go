package lib

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/audit"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/limits"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
)

// SubmitRun runs a command in the sandbox.
//
// Domain outcomes are reported in the result, not as errors: a policy
// rejection, a non zero exit code, a timeout or a cancellation end with the
// workspace rolled back and the result says so. Errors are infrastructure
// failures, use [CorrelationID] to get the run audit trail from them.
func (c *Client) SubmitRun(ctx context.Context, req CommandRequest) (*RunResult, error) {
	res, err := c.svc.SubmitRun(ctx, toInternalRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	r := fromInternalRunResult(*res)
	return &r, nil
}

// SubmitSequence runs the requests in order and stops at the first one that
// doesn't commit. The workspace keeps the changes of the committed requests.
func (c *Client) SubmitSequence(ctx context.Context, reqs []CommandRequest) (*SequenceResult, error) {
	ireqs := make([]model.CommandRequest, 0, len(reqs))
	for _, r := range reqs {
		ireqs = append(ireqs, toInternalRequest(r))
	}

	res, err := c.svc.SubmitSequence(ctx, ireqs)
	if err != nil {
		return nil, mapError(err)
	}

	r := fromInternalSequence(*res)
	return &r, nil
}

// CheckPolicy evaluates a shell command line against the current policy
// without running anything.
func (c *Client) CheckPolicy(line string) (*PolicyDecision, error) {
	d, err := c.policies.Current().Check(line)
	if err != nil {
		return nil, mapError(err)
	}

	pd := fromInternalDecision(d)
	return &pd, nil
}

// UpdatePolicy replaces the policy and returns its new version. Runs already
// past the policy check keep the version they were evaluated with. An invalid
// policy is rejected and the current one is kept.
func (c *Client) UpdatePolicy(ruleSet PolicyRuleSet) (uint64, error) {
	v, err := c.policies.Swap(toInternalRuleSet(ruleSet))
	if err != nil {
		return 0, mapError(err)
	}
	return v, nil
}

// ListRuns returns the run history, newest first.
func (c *Client) ListRuns(ctx context.Context, opts *ListRunsOpts) ([]Run, error) {
	o := storage.ListRunsOpts{WorkspaceRoot: c.WorkspaceRoot()}
	if opts != nil {
		o.Limit = opts.Limit
		if opts.AllWorkspaces {
			o.WorkspaceRoot = ""
		}
	}

	runs, err := c.repo.ListRuns(ctx, o)
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]Run, 0, len(runs))
	for _, r := range runs {
		result = append(result, fromInternalRun(r))
	}
	return result, nil
}

// GetRun returns a run history entry by its correlation ID.
func (c *Client) GetRun(ctx context.Context, correlationID string) (*Run, error) {
	r, err := c.repo.GetRun(ctx, correlationID)
	if err != nil {
		return nil, mapError(err)
	}

	run := fromInternalRun(*r)
	return &run, nil
}

// AuditEvents returns the audit log events in order, only the ones of a run
// when correlationID is set.
func (c *Client) AuditEvents(ctx context.Context, correlationID string) ([]AuditEvent, error) {
	f, err := c.openAuditLog()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events, err := audit.ReadEvents(f, correlationID)
	if err != nil {
		return nil, mapError(fmt.Errorf("could not read audit log: %w", err))
	}

	result := make([]AuditEvent, 0, len(events))
	for _, e := range events {
		result = append(result, fromInternalAuditEvent(e))
	}
	return result, nil
}

// VerifyAudit checks the audit log sequence continuity and hash chain.
func (c *Client) VerifyAudit(ctx context.Context) (*AuditReport, error) {
	f, err := c.openAuditLog()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	report, err := audit.Verify(f, c.auditKey)
	if err != nil {
		return nil, mapError(fmt.Errorf("audit log verification failed after %d valid events: %w", report.Events, err))
	}

	return &AuditReport{Events: report.Events, LastSeq: report.LastSeq, Runs: report.Correlations}, nil
}

func (c *Client) openAuditLog() (*os.File, error) {
	f, err := os.Open(c.auditPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("audit log %s: %w", c.auditPath, ErrNotFound)
		}
		return nil, fmt.Errorf("could not open audit log: %w", err)
	}
	return f, nil
}

// Doctor runs the preflight checks of the engine, the host resource limits
// and the policy.
func (c *Client) Doctor(ctx context.Context) []CheckResult {
	results := c.engine.Check(ctx)
	results = append(results, limits.Check(limits.Probe(c.cgroupRoot))...)

	current := c.policies.Current()
	rs := current.RuleSet()
	results = append(results, model.CheckResult{
		ID:        "policy",
		Component: "policy",
		Message:   fmt.Sprintf("%d allow and %d deny rules (version %d)", len(rs.Allow), len(rs.Deny), current.Version()),
		Status:    model.CheckStatusOK,
	})

	return fromInternalChecks(results)
}
