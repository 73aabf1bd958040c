package policy

import (
	"fmt"
	"path"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("command", cel.StringType),
		cel.Variable("args", cel.ListType(cel.StringType)),
		cel.Variable("line", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create CEL environment: %w", err)
	}
	return env, nil
}

type compiledRule struct {
	id      string
	command string
	pattern *regexp.Regexp
	program cel.Program
}

func compileRule(env *cel.Env, r model.PolicyRule) (compiledRule, error) {
	if err := r.Validate(); err != nil {
		return compiledRule{}, err
	}

	cr := compiledRule{id: r.ID(), command: r.Command}

	if r.Command != "" {
		if _, err := path.Match(r.Command, ""); err != nil {
			return compiledRule{}, fmt.Errorf("invalid command glob %q: %w", r.Command, err)
		}
	}

	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
		}
		cr.pattern = re
	}

	if r.Expr != "" {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return compiledRule{}, fmt.Errorf("invalid expression %q: %w", r.Expr, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return compiledRule{}, fmt.Errorf("expression %q must return a boolean", r.Expr)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return compiledRule{}, fmt.Errorf("invalid expression %q: %w", r.Expr, err)
		}
		cr.program = prg
	}

	return cr, nil
}

// match returns true when all the rule matchers match the command.
func (r compiledRule) match(c command, line string) (bool, error) {
	if r.command != "" {
		ok, _ := path.Match(r.command, c.Name)
		if !ok {
			return false, nil
		}
	}

	if r.pattern != nil && !r.pattern.MatchString(line) {
		return false, nil
	}

	if r.program != nil {
		args := c.Args
		if args == nil {
			args = []string{}
		}
		out, _, err := r.program.Eval(map[string]any{
			"command": c.Name,
			"args":    args,
			"line":    line,
		})
		if err != nil {
			return false, fmt.Errorf("rule %q evaluation: %w", r.id, err)
		}
		b, ok := out.Value().(bool)
		if !ok || !b {
			return false, nil
		}
	}

	return true, nil
}
