package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/app/run"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/audit"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/limits"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/metrics"
	metricsprometheus "github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/metrics/prometheus"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/policy"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox/docker"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox/fake"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/snapshot"
	storageio "github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/io"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage/sqlite"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/workspace"
)

// Config configures the SDK client.
//
// Only WorkspaceRoot is required, every other field has a default.
type Config struct {
	// WorkspaceRoot is the host directory mounted in the sandbox. It is
	// created when missing.
	WorkspaceRoot string

	// DataDir holds the audit log, snapshots, locks and run history.
	// Default: ~/.aisbx.
	DataDir string

	// Engine selects the container engine.
	// Default: [EngineDocker].
	Engine EngineType

	// Image is the sandbox container image.
	// Default: ai-sandbox:py312.
	Image string

	// Network enables the sandbox network. Default: disabled.
	Network bool

	// Timeout is the default run timeout. Default: 10s.
	Timeout time.Duration

	// Limits are the requested resource limits. Default: 512MiB, 1 CPU, 128 processes.
	Limits *Limits

	// CgroupRoot is where the host control group hierarchy is mounted.
	// Default: /sys/fs/cgroup.
	CgroupRoot string

	// Policy is the command policy. When nil, PolicyPath is loaded, and
	// when both are empty the built-in policy is used.
	Policy *PolicyRuleSet

	// PolicyPath is a policy YAML file.
	PolicyPath string

	// BusyPolicy is what happens when the workspace already has an active run.
	// Default: [BusyPolicyQueue].
	BusyPolicy BusyPolicy

	// RetainSnapshots archives the snapshots of committed runs instead of discarding them.
	RetainSnapshots bool

	// AuditKey is the HMAC key of the audit log hash chain.
	AuditKey []byte

	// MetricsRegistry receives the executor metrics when set.
	MetricsRegistry *prometheus.Registry

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required: %w", ErrConfiguration)
	}

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.Engine == "" {
		c.Engine = EngineDocker
	}
	if c.Engine != EngineDocker && c.Engine != EngineFake {
		return fmt.Errorf("unsupported engine type %q: %w", c.Engine, ErrConfiguration)
	}

	if c.Limits == nil {
		c.Limits = &Limits{MemoryBytes: 512 * 1024 * 1024, CPUs: 1, PIDs: 128}
	}

	if c.CgroupRoot == "" {
		c.CgroupRoot = limits.DefaultCgroupRoot
	}

	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyPolicyQueue
	}
	if c.BusyPolicy != BusyPolicyQueue && c.BusyPolicy != BusyPolicyReject {
		return fmt.Errorf("unknown busy policy %q: %w", c.BusyPolicy, ErrConfiguration)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point to run commands in the sandbox.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use, runs on the same workspace are serialized.
type Client struct {
	svc        *run.Service
	policies   *policy.Store
	engine     sandbox.Engine
	repo       *sqlite.Repository
	auditor    *audit.Logger
	auditPath  string
	auditKey   []byte
	cgroupRoot string
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done. Typically used with defer:
//
//	client, err := lib.New(ctx, lib.Config{WorkspaceRoot: "./workdir"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ruleSet, err := cfg.ruleSet(ctx)
	if err != nil {
		return nil, mapError(fmt.Errorf("could not load policy: %w", err))
	}
	policies, err := policy.NewStore(policy.StoreConfig{RuleSet: ruleSet, Logger: cfg.Logger})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create policy store: %w", err))
	}

	var engine sandbox.Engine
	switch cfg.Engine {
	case EngineFake:
		engine, err = fake.NewEngine(fake.EngineConfig{Logger: cfg.Logger})
	default:
		engine, err = docker.NewEngine(docker.EngineConfig{Image: cfg.Image, Logger: cfg.Logger})
	}
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	c := &Client{
		policies:   policies,
		engine:     engine,
		auditPath:  conventions.AuditPath(cfg.DataDir),
		auditKey:   cfg.AuditKey,
		cgroupRoot: cfg.CgroupRoot,
	}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	c.repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(cfg.DataDir),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	c.auditor, err = audit.NewLogger(audit.LoggerConfig{
		Path:   c.auditPath,
		Key:    cfg.AuditKey,
		Sinks:  []audit.Sink{c.repo},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create audit logger: %w", err)
	}

	snapshots, err := snapshot.NewManager(snapshot.ManagerConfig{
		DataDir: conventions.SnapshotsPath(cfg.DataDir),
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create snapshot manager: %w", err)
	}

	locker, err := workspace.NewLocker(workspace.LockerConfig{
		LocksDir:   conventions.LocksPath(cfg.DataDir),
		BusyPolicy: workspace.BusyPolicy(cfg.BusyPolicy),
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create workspace locker: %w", err))
	}

	var recorder metrics.Recorder = metrics.Noop
	if cfg.MetricsRegistry != nil {
		recorder, err = metricsprometheus.NewRecorder(metricsprometheus.Config{Registry: cfg.MetricsRegistry})
		if err != nil {
			return nil, fmt.Errorf("could not create metrics recorder: %w", err)
		}
	}

	cgroupRoot := cfg.CgroupRoot
	c.svc, err = run.NewService(run.ServiceConfig{
		WorkspaceRoot:   cfg.WorkspaceRoot,
		Engine:          engine,
		Policies:        policies,
		Snapshots:       snapshots,
		Auditor:         c.auditor,
		Locker:          locker,
		Runs:            c.repo,
		Metrics:         recorder,
		Logger:          cfg.Logger,
		Image:           cfg.Image,
		Network:         cfg.Network,
		DefaultTimeout:  cfg.Timeout,
		Limits:          toInternalLimits(*cfg.Limits),
		Capabilities:    func() model.HostCapabilities { return limits.Probe(cgroupRoot) },
		RetainSnapshots: cfg.RetainSnapshots,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create run service: %w", err))
	}

	ok = true
	return c, nil
}

func (c Config) ruleSet(ctx context.Context) (model.PolicyRuleSet, error) {
	switch {
	case c.Policy != nil:
		rs := toInternalRuleSet(*c.Policy)
		return rs, rs.Validate()
	case c.PolicyPath != "":
		abs, err := filepath.Abs(c.PolicyPath)
		if err != nil {
			return model.PolicyRuleSet{}, err
		}
		return storageio.NewPolicyYAMLRepository(os.DirFS(filepath.Dir(abs))).GetPolicy(ctx, filepath.Base(abs))
	default:
		return policy.DefaultRuleSet(), nil
	}
}

// WorkspaceRoot returns the absolute workspace root of the client.
func (c *Client) WorkspaceRoot() string { return c.svc.WorkspaceRoot() }

// Close releases the audit log and the run history database.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	var err error
	if c.auditor != nil {
		err = c.auditor.Close()
	}
	if c.repo != nil {
		if rerr := c.repo.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
