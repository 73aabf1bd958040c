package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/policy"
)

type PolicyCheckCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	line   []string
	format string
}

// NewPolicyCheckCommand returns the policy check command.
func NewPolicyCheckCommand(rootCmd *RootCommand, policyCmd *kingpin.CmdClause) *PolicyCheckCommand {
	c := &PolicyCheckCommand{rootCmd: rootCmd}

	c.Cmd = policyCmd.Command("check", "Evaluate a shell command line against the policy without running it.")
	c.Cmd.Arg("line", "Shell command line (use -- before it).").Required().StringsVar(&c.line)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c PolicyCheckCommand) Name() string { return c.Cmd.FullCommand() }

func (c PolicyCheckCommand) Run(ctx context.Context) error {
	ruleSet, err := loadPolicy(ctx, c.rootCmd.PolicyPath)
	if err != nil {
		return fmt.Errorf("could not load policy: %w", err)
	}

	engine, err := policy.NewEngine(ruleSet, 1)
	if err != nil {
		return fmt.Errorf("could not compile policy: %w", err)
	}

	decision, err := engine.Check(strings.Join(c.line, " "))
	if err != nil {
		return fmt.Errorf("could not evaluate command line: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintPolicyDecision(decision); err != nil {
		return fmt.Errorf("could not print decision: %w", err)
	}

	if !decision.Allowed() {
		return fmt.Errorf("%s: %w", decision.Reason, model.ErrPolicyRejected)
	}
	return nil
}
