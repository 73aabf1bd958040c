package model

import (
	"fmt"
	"strings"
)

// PolicyVerdict is the outcome of a policy evaluation.
type PolicyVerdict string

const (
	PolicyVerdictAllow PolicyVerdict = "allow"
	PolicyVerdictDeny  PolicyVerdict = "deny"
)

// PolicyRule is a single allow or deny rule. A rule matches a command only when
// all of its set matchers match.
type PolicyRule struct {
	// Name identifies the rule in decisions and audit records (optional).
	Name string
	// Command is a glob over the canonical executable name (e.g. `python*`).
	Command string
	// Pattern is a regular expression over the normalized full command line.
	Pattern string
	// Expr is a CEL boolean expression over `command`, `args` and `line`.
	Expr string
}

// ID returns the identifier used when reporting the rule.
func (r PolicyRule) ID() string {
	if r.Name != "" {
		return r.Name
	}

	var parts []string
	if r.Command != "" {
		parts = append(parts, "command="+r.Command)
	}
	if r.Pattern != "" {
		parts = append(parts, "pattern="+r.Pattern)
	}
	if r.Expr != "" {
		parts = append(parts, "expr="+r.Expr)
	}
	return strings.Join(parts, ",")
}

// Validate validates the rule has at least one matcher.
func (r PolicyRule) Validate() error {
	if r.Command == "" && r.Pattern == "" && r.Expr == "" {
		return fmt.Errorf("rule %q requires a command, pattern or expr matcher: %w", r.Name, ErrNotValid)
	}
	return nil
}

// PolicyRuleSet is an immutable set of ordered allow and deny rules plus the
// environment allowlist. Deny rules always take precedence over allow rules and
// an empty allow set denies everything.
type PolicyRuleSet struct {
	Allow        []PolicyRule
	Deny         []PolicyRule
	EnvAllowlist []string
	// WorkingSubdir is the workspace subdirectory used as the command working directory.
	WorkingSubdir string
	// StrictEnv denies commands requesting non allowlisted environment variables
	// instead of only stripping them.
	StrictEnv bool
	// AllowSubstitution allows shell lines with command or process substitutions,
	// the substituted commands are not evaluated.
	AllowSubstitution bool
}

// Validate validates the rule set.
func (p PolicyRuleSet) Validate() error {
	for i, r := range p.Allow {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("allow rule %d: %w", i, err)
		}
	}
	for i, r := range p.Deny {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("deny rule %d: %w", i, err)
		}
	}
	for _, e := range p.EnvAllowlist {
		if e == "" || strings.ContainsAny(e, "= ") {
			return fmt.Errorf("invalid environment variable name %q: %w", e, ErrNotValid)
		}
	}
	if p.WorkingSubdir != "" {
		if err := ValidateWorkspacePath(p.WorkingSubdir); err != nil {
			return err
		}
	}
	return nil
}

// PolicyDecision is the result of evaluating a command request against a rule set.
type PolicyDecision struct {
	Verdict PolicyVerdict
	// MatchedRule is the rule that produced the verdict, empty on default deny.
	MatchedRule string
	Reason      string
	// Command is the canonical executable name that was evaluated.
	Command string
	// PolicyVersion is the version of the rule set used for the evaluation.
	PolicyVersion uint64
}

// Allowed returns true if the decision allows the execution.
func (d PolicyDecision) Allowed() bool { return d.Verdict == PolicyVerdictAllow }
