package policy

import (
	"fmt"
	"sort"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// Engine evaluates command requests against an immutable compiled rule set.
// Evaluation is pure, emitting audit records is up to the caller.
type Engine struct {
	ruleSet  model.PolicyRuleSet
	version  uint64
	allow    []compiledRule
	deny     []compiledRule
	envAllow map[string]struct{}
}

// NewEngine compiles a rule set. Malformed rules are configuration errors.
func NewEngine(ruleSet model.PolicyRuleSet, version uint64) (*Engine, error) {
	if err := ruleSet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w: %w", model.ErrConfiguration, err)
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ruleSet:  ruleSet,
		version:  version,
		envAllow: map[string]struct{}{},
	}

	for i, r := range ruleSet.Deny {
		cr, err := compileRule(env, r)
		if err != nil {
			return nil, fmt.Errorf("deny rule %d: %w: %w", i, model.ErrConfiguration, err)
		}
		e.deny = append(e.deny, cr)
	}
	for i, r := range ruleSet.Allow {
		cr, err := compileRule(env, r)
		if err != nil {
			return nil, fmt.Errorf("allow rule %d: %w: %w", i, model.ErrConfiguration, err)
		}
		e.allow = append(e.allow, cr)
	}
	for _, name := range ruleSet.EnvAllowlist {
		e.envAllow[name] = struct{}{}
	}

	return e, nil
}

// Version returns the rule set version the engine was compiled from.
func (e *Engine) Version() uint64 { return e.version }

// RuleSet returns the rule set the engine was compiled from.
func (e *Engine) RuleSet() model.PolicyRuleSet { return e.ruleSet }

// Evaluate decides if a command request can be executed. Deny rules are tested
// first and dominate regardless of specificity, then every command of the
// request must match an allow rule, otherwise it's denied.
func (e *Engine) Evaluate(req model.CommandRequest) model.PolicyDecision {
	decision := model.PolicyDecision{
		Verdict:       model.PolicyVerdictDeny,
		PolicyVersion: e.version,
	}

	n, err := normalize(req)
	if err != nil {
		decision.Reason = err.Error()
		return decision
	}
	decision.Command = n.Commands[0].Name

	for _, c := range n.Commands {
		for _, r := range e.deny {
			ok, err := r.match(c, n.Line)
			if err != nil {
				// Broken deny rules fail closed.
				decision.MatchedRule = r.id
				decision.Reason = err.Error()
				return decision
			}
			if ok {
				decision.MatchedRule = r.id
				decision.Reason = fmt.Sprintf("command %q matches deny rule %q", n.Line, r.id)
				return decision
			}
		}
	}

	if req.Shell && !e.ruleSet.AllowSubstitution {
		if s := substitution(req.Line); s != "" {
			decision.Reason = fmt.Sprintf("shell substitution %q is not allowed", s)
			return decision
		}
	}

	if e.ruleSet.StrictEnv {
		if _, stripped := e.FilterEnv(req.Env); len(stripped) > 0 {
			decision.Reason = fmt.Sprintf("environment variables not allowed: %v", stripped)
			return decision
		}
	}

	var firstMatch string
	for _, c := range n.Commands {
		matched := ""
		for _, r := range e.allow {
			ok, err := r.match(c, n.Line)
			if err == nil && ok {
				matched = r.id
				break
			}
		}
		if matched == "" {
			decision.Command = c.Name
			decision.Reason = fmt.Sprintf("command %q doesn't match any allow rule", c.Name)
			return decision
		}
		if firstMatch == "" {
			firstMatch = matched
		}
	}

	decision.Verdict = model.PolicyVerdictAllow
	decision.MatchedRule = firstMatch
	decision.Reason = fmt.Sprintf("command %q matches allow rule %q", decision.Command, firstMatch)
	return decision
}

// FilterEnv removes every variable not in the allowlist. It returns the
// filtered environment and the sorted stripped names. Filtering is idempotent.
func (e *Engine) FilterEnv(env map[string]string) (filtered map[string]string, stripped []string) {
	filtered = make(map[string]string, len(env))
	for k, v := range env {
		if _, ok := e.envAllow[k]; ok {
			filtered[k] = v
			continue
		}
		stripped = append(stripped, k)
	}
	sort.Strings(stripped)
	return filtered, stripped
}

// Check is a dry-run evaluation of a shell command line.
func (e *Engine) Check(line string) (model.PolicyDecision, error) {
	req, err := ParseShellLine(line)
	if err != nil {
		return model.PolicyDecision{}, err
	}
	return e.Evaluate(req), nil
}

// DefaultRuleSet returns the built-in policy used when none is configured.
func DefaultRuleSet() model.PolicyRuleSet {
	allow := []model.PolicyRule{}
	for _, c := range []string{"python", "python3", "bash", "sh", "cat", "echo"} {
		allow = append(allow, model.PolicyRule{Command: c})
	}

	return model.PolicyRuleSet{
		Allow: allow,
		Deny: []model.PolicyRule{
			{Name: "rm-rf-root", Pattern: `rm\s+-rf\s+/`},
			{Name: "fork-bomb", Pattern: `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\};\s*:`},
		},
		EnvAllowlist: []string{"PYTHONUNBUFFERED"},
	}
}
