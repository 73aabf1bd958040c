package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/limits"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/policy"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the engine, resource limits and policy.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	engine, err := newEngine(*c.rootCmd)
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	results := engine.Check(ctx)
	results = append(results, limits.Check(limits.Probe(c.rootCmd.CgroupRoot))...)
	results = append(results, c.checkPolicy(ctx))

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	if _, _, errs := model.CountByStatus(results); errs > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s)", errs)
	}

	return nil
}

func (c DoctorCommand) checkPolicy(ctx context.Context) model.CheckResult {
	r := model.CheckResult{ID: "policy", Component: "policy"}

	ruleSet, err := loadPolicy(ctx, c.rootCmd.PolicyPath)
	if err == nil {
		_, err = policy.NewEngine(ruleSet, 1)
	}
	if err != nil {
		r.Status = model.CheckStatusError
		r.Message = err.Error()
		return r
	}

	r.Status = model.CheckStatusOK
	r.Message = fmt.Sprintf("%d allow and %d deny rules", len(ruleSet.Allow), len(ruleSet.Deny))
	if c.rootCmd.PolicyPath == "" {
		r.Message += " (built-in)"
	}
	return r
}
