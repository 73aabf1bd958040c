package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	utilsenv "github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/utils/env"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	command    []string
	shell      bool
	envSpecs   []string
	inheritEnv bool
	paths      []string
	timeout    time.Duration
	format     string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a command in the sandbox, committing its workspace changes only when it succeeds.")
	c.Cmd.Arg("command", "Command to run (use -- before command).").Required().StringsVar(&c.command)
	c.Cmd.Flag("shell", "Run the arguments as a single shell command line.").BoolVar(&c.shell)
	c.Cmd.Flag("env", "Environment variables (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("inherit-env", "Pass the current environment, the policy allowlist still applies.").BoolVar(&c.inheritEnv)
	c.Cmd.Flag("path", "Workspace relative path the command is expected to touch. Can be repeated.").StringsVar(&c.paths)
	c.Cmd.Flag("run-timeout", "Timeout of this run, the global timeout is used when not set.").DurationVar(&c.timeout)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	req, err := c.request()
	if err != nil {
		return err
	}

	exec, err := newExecutor(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	res, err := exec.svc.SubmitRun(ctx, req)
	if err != nil {
		return fmt.Errorf("could not run command: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRunResult(*res); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	return resultError(*res)
}

func (c RunCommand) request() (model.CommandRequest, error) {
	env, err := commandEnv(c.envSpecs, c.inheritEnv)
	if err != nil {
		return model.CommandRequest{}, err
	}

	req := model.CommandRequest{
		Env:     env,
		Paths:   c.paths,
		Timeout: c.timeout,
	}
	if c.shell {
		req.Shell = true
		req.Line = strings.Join(c.command, " ")
	} else {
		req.Command = c.command[0]
		req.Args = c.command[1:]
	}

	return req, nil
}

func commandEnv(specs []string, inherit bool) (map[string]string, error) {
	cliEnv, err := utilsenv.ParseSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid --env value: %w", err)
	}

	if !inherit {
		return cliEnv, nil
	}
	return utilsenv.MergeMaps(utilsenv.FromEnviron(os.Environ()), cliEnv), nil
}

// resultError makes the command fail when the run didn't commit.
func resultError(res model.RunResult) error {
	switch {
	case res.State == model.RunStatePolicyRejected:
		return fmt.Errorf("run %s: %s: %w", res.CorrelationID, res.Decision.Reason, model.ErrPolicyRejected)
	case res.Diverged():
		return fmt.Errorf("run %s: workspace diverged from its snapshot on %v: %w", res.CorrelationID, res.Restore.FailedPaths(), model.ErrRestoreDivergence)
	case !res.Committed():
		return fmt.Errorf("run %s %s, workspace rolled back", res.CorrelationID, res.State)
	}
	return nil
}
