package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/docker/go-units"
	"k8s.io/client-go/util/homedir"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/limits"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/printer"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/workspace"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// EngineDocker runs commands in docker containers.
	EngineDocker = "docker"
	// EngineFake simulates successful commands, useful for dry runs.
	EngineFake = "fake"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string

	DataDir         string
	Workspace       string
	PolicyPath      string
	Engine          string
	Image           string
	Network         bool
	Timeout         time.Duration
	CPUs            float64
	Memory          string
	PIDs            int64
	CgroupRoot      string
	BusyPolicy      string
	RetainSnapshots bool
	AuditKey        string
	NoMetrics       bool

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory for the audit log, snapshots, locks and run history.").Envar("AISBX_DATA_DIR").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("workspace", "Host workspace directory mounted in the sandbox.").Envar("SANDBOX_WORKSPACE").Default("./workdir").StringVar(&c.Workspace)
	app.Flag("policy", "Policy YAML file, the built-in policy is used when empty.").Envar("SANDBOX_POLICY").StringVar(&c.PolicyPath)
	app.Flag("engine", "Container engine.").Envar("SANDBOX_ENGINE").Default(EngineDocker).EnumVar(&c.Engine, EngineDocker, EngineFake)
	app.Flag("image", "Sandbox container image.").Envar("SANDBOX_IMAGE").Default(conventions.DefaultImage).StringVar(&c.Image)
	app.Flag("network", "Enable the sandbox network.").Envar("SANDBOX_NETWORK").BoolVar(&c.Network)
	app.Flag("timeout", "Default run timeout.").Envar("SANDBOX_TIMEOUT").Default("10s").DurationVar(&c.Timeout)
	app.Flag("cpus", "CPU limit.").Envar("SANDBOX_CPUS").Default("1").Float64Var(&c.CPUs)
	app.Flag("memory", "Memory limit (e.g. 512m, 1g).").Envar("SANDBOX_MEMORY").Default("512m").StringVar(&c.Memory)
	app.Flag("pids-limit", "Process count limit.").Envar("SANDBOX_PIDS_LIMIT").Default("128").Int64Var(&c.PIDs)
	app.Flag("cgroup-root", "Control group hierarchy mount point.").Envar("SANDBOX_CGROUP_ROOT").Default(limits.DefaultCgroupRoot).StringVar(&c.CgroupRoot)
	app.Flag("busy-policy", "What to do when the workspace already has an active run.").Envar("SANDBOX_BUSY_POLICY").Default(string(workspace.BusyPolicyQueue)).EnumVar(&c.BusyPolicy, string(workspace.BusyPolicyQueue), string(workspace.BusyPolicyReject))
	app.Flag("retain-snapshots", "Archive the snapshots of committed runs instead of discarding them.").Envar("SANDBOX_RETAIN_SNAPSHOTS").BoolVar(&c.RetainSnapshots)
	app.Flag("audit-key", "HMAC key of the audit log hash chain.").Envar("AISBX_AUDIT_KEY").StringVar(&c.AuditKey)
	app.Flag("no-metrics", "Don't write the metrics textfile in the data dir.").Envar("AISBX_NO_METRICS").BoolVar(&c.NoMetrics)

	return c
}

// RequestedLimits returns the resource limits from the global flags.
func (c RootCommand) RequestedLimits() (model.RequestedLimits, error) {
	mem, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return model.RequestedLimits{}, fmt.Errorf("invalid memory limit %q: %w: %w", c.Memory, model.ErrConfiguration, err)
	}

	l := model.RequestedLimits{MemoryBytes: mem, CPUs: c.CPUs, PIDs: c.PIDs}
	if err := l.Validate(); err != nil {
		return model.RequestedLimits{}, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	return l, nil
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == "json" {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}
