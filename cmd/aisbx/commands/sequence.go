package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

type SequenceCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	lines      []string
	file       string
	envSpecs   []string
	inheritEnv bool
	format     string
}

// NewSequenceCommand returns the sequence command.
func NewSequenceCommand(rootCmd *RootCommand, app *kingpin.Application) *SequenceCommand {
	c := &SequenceCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("sequence", "Run shell command lines in order, stopping at the first one that doesn't commit.")
	c.Cmd.Arg("lines", "Shell command lines.").StringsVar(&c.lines)
	c.Cmd.Flag("file", "File with a shell command line per line ('-' for stdin), blank lines and # comments are ignored.").Short('f').StringVar(&c.file)
	c.Cmd.Flag("env", "Environment variables (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("inherit-env", "Pass the current environment, the policy allowlist still applies.").BoolVar(&c.inheritEnv)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c SequenceCommand) Name() string { return c.Cmd.FullCommand() }

func (c SequenceCommand) Run(ctx context.Context) error {
	lines := c.lines
	if c.file != "" {
		fileLines, err := c.readFile()
		if err != nil {
			return err
		}
		lines = append(lines, fileLines...)
	}
	if len(lines) == 0 {
		return fmt.Errorf("at least one command line is required: %w", model.ErrNotValid)
	}

	env, err := commandEnv(c.envSpecs, c.inheritEnv)
	if err != nil {
		return err
	}

	reqs := make([]model.CommandRequest, 0, len(lines))
	for _, l := range lines {
		reqs = append(reqs, model.CommandRequest{Shell: true, Line: l, Env: env})
	}

	exec, err := newExecutor(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	res, err := exec.svc.SubmitSequence(ctx, reqs)
	if err != nil {
		return fmt.Errorf("could not run sequence: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintSequenceResult(*res); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	if !res.OK() {
		return fmt.Errorf("sequence stopped at %q: %w", lines[res.FailedIndex], resultError(res.Results[res.FailedIndex]))
	}
	return nil
}

func (c SequenceCommand) readFile() ([]string, error) {
	var r io.Reader = c.rootCmd.Stdin
	if c.file != "-" {
		f, err := os.Open(c.file)
		if err != nil {
			return nil, fmt.Errorf("could not open sequence file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		l := strings.TrimSpace(sc.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("could not read sequence file: %w", err)
	}

	return lines, nil
}
