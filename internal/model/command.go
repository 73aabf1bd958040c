package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// CommandRequest is a single command execution request submitted by a caller.
type CommandRequest struct {
	// Command is the executable name (or path) when not running in shell mode.
	Command string
	// Args are the command arguments when not running in shell mode.
	Args []string
	// Shell runs Line through the sandbox shell (e.g. `bash -lc <line>`).
	Shell bool
	// Line is the full command line used in shell mode.
	Line string
	// Env are the requested environment overrides, filtered by the policy allowlist.
	Env map[string]string
	// Paths is the workspace relative path set the command may touch.
	Paths []string
	// Timeout is the wall-clock limit for the run, zero means the runtime default.
	Timeout time.Duration
}

// CommandLine returns the human readable command line of the request.
func (c CommandRequest) CommandLine() string {
	if c.Shell {
		return c.Line
	}

	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Command)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Validate validates the command request.
func (c CommandRequest) Validate() error {
	if c.Shell {
		if strings.TrimSpace(c.Line) == "" {
			return fmt.Errorf("shell command line is required: %w", ErrNotValid)
		}
	} else if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("command is required: %w", ErrNotValid)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout can't be negative: %w", ErrNotValid)
	}

	for _, p := range c.Paths {
		if err := ValidateWorkspacePath(p); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkspacePath checks that a path is relative to the workspace and doesn't escape it.
func ValidateWorkspacePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty workspace path: %w", ErrNotValid)
	}
	if path.IsAbs(p) {
		return fmt.Errorf("workspace path %q must be relative: %w", p, ErrNotValid)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("workspace path %q escapes the workspace: %w", p, ErrNotValid)
	}
	return nil
}
