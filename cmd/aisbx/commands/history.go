package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/sqlite"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	limit         int
	allWorkspaces bool
	format        string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List the latest runs.")
	c.Cmd.Flag("limit", "Max number of runs.").Default("20").IntVar(&c.limit)
	c.Cmd.Flag("all-workspaces", "List the runs of every workspace.").BoolVar(&c.allWorkspaces)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(c.rootCmd.DataDir),
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	opts := storage.ListRunsOpts{Limit: c.limit}
	if !c.allWorkspaces {
		opts.WorkspaceRoot, err = filepath.Abs(c.rootCmd.Workspace)
		if err != nil {
			return fmt.Errorf("could not resolve workspace: %w", err)
		}
		// Runs are stored with the symlink free root.
		if resolved, err := filepath.EvalSymlinks(opts.WorkspaceRoot); err == nil {
			opts.WorkspaceRoot = resolved
		}
	}

	runs, err := repo.ListRuns(ctx, opts)
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRunList(runs); err != nil {
		return fmt.Errorf("could not print runs: %w", err)
	}

	return nil
}
