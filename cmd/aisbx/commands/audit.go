package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/audit"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/sqlite"
)

type AuditListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	correlationID string
	fromIndex     bool
	format        string
}

// NewAuditListCommand returns the audit list command.
func NewAuditListCommand(rootCmd *RootCommand, auditCmd *kingpin.CmdClause) *AuditListCommand {
	c := &AuditListCommand{rootCmd: rootCmd}

	c.Cmd = auditCmd.Command("list", "List audit events, optionally of a single run.")
	c.Cmd.Arg("correlation-id", "Run correlation ID.").StringVar(&c.correlationID)
	c.Cmd.Flag("from-index", "Read the events from the run history index instead of the audit log.").BoolVar(&c.fromIndex)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c AuditListCommand) Name() string { return c.Cmd.FullCommand() }

func (c AuditListCommand) Run(ctx context.Context) error {
	var (
		events []model.AuditEvent
		err    error
	)
	if c.fromIndex {
		events, err = c.indexEvents(ctx)
	} else {
		events, err = c.logEvents()
	}
	if err != nil {
		return err
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintAuditEvents(events); err != nil {
		return fmt.Errorf("could not print events: %w", err)
	}

	return nil
}

func (c AuditListCommand) logEvents() ([]model.AuditEvent, error) {
	f, err := os.Open(conventions.AuditPath(c.rootCmd.DataDir))
	if err != nil {
		return nil, fmt.Errorf("could not open audit log: %w", err)
	}
	defer f.Close()

	events, err := audit.ReadEvents(f, c.correlationID)
	if err != nil {
		return nil, fmt.Errorf("could not read audit log: %w", err)
	}
	return events, nil
}

func (c AuditListCommand) indexEvents(ctx context.Context) ([]model.AuditEvent, error) {
	if c.correlationID == "" {
		return nil, fmt.Errorf("correlation ID is required when reading from the index: %w", model.ErrNotValid)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(c.rootCmd.DataDir),
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	events, err := repo.ListAuditEvents(ctx, c.correlationID)
	if err != nil {
		return nil, fmt.Errorf("could not list audit events: %w", err)
	}
	return events, nil
}

type AuditVerifyCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewAuditVerifyCommand returns the audit verify command.
func NewAuditVerifyCommand(rootCmd *RootCommand, auditCmd *kingpin.CmdClause) *AuditVerifyCommand {
	c := &AuditVerifyCommand{rootCmd: rootCmd}
	c.Cmd = auditCmd.Command("verify", "Verify the audit log sequence continuity and hash chain.")
	return c
}

func (c AuditVerifyCommand) Name() string { return c.Cmd.FullCommand() }

func (c AuditVerifyCommand) Run(ctx context.Context) error {
	f, err := os.Open(conventions.AuditPath(c.rootCmd.DataDir))
	if err != nil {
		return fmt.Errorf("could not open audit log: %w", err)
	}
	defer f.Close()

	report, err := audit.Verify(f, []byte(c.rootCmd.AuditKey))
	if err != nil {
		return fmt.Errorf("audit log verification failed after %d valid events: %w", report.Events, err)
	}

	msg := fmt.Sprintf("Audit log OK: %d events of %d runs, last seq %d", report.Events, report.Correlations, report.LastSeq)
	return newPrinter("table", c.rootCmd.Stdout).PrintMessage(msg)
}
