package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

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

// loadPolicy returns the policy file rule set or the built-in one.
func loadPolicy(ctx context.Context, path string) (model.PolicyRuleSet, error) {
	if path == "" {
		return policy.DefaultRuleSet(), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return model.PolicyRuleSet{}, fmt.Errorf("could not resolve policy path: %w", err)
	}

	repo := storageio.NewPolicyYAMLRepository(os.DirFS(filepath.Dir(abs)))
	return repo.GetPolicy(ctx, filepath.Base(abs))
}

func newEngine(root RootCommand) (sandbox.Engine, error) {
	switch root.Engine {
	case EngineFake:
		return fake.NewEngine(fake.EngineConfig{Logger: root.Logger})
	default:
		return docker.NewEngine(docker.EngineConfig{Image: root.Image, Logger: root.Logger})
	}
}

// executor is the wired sandbox executor with the resources it owns.
type executor struct {
	svc     *run.Service
	repo    *sqlite.Repository
	auditor *audit.Logger
	metrics *metricsprometheus.Recorder
	dataDir string
	logger  log.Logger
}

func newExecutor(ctx context.Context, root RootCommand) (*executor, error) {
	logger := root.Logger

	reqLimits, err := root.RequestedLimits()
	if err != nil {
		return nil, err
	}

	ruleSet, err := loadPolicy(ctx, root.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("could not load policy: %w", err)
	}
	policies, err := policy.NewStore(policy.StoreConfig{RuleSet: ruleSet, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create policy store: %w", err)
	}

	engine, err := newEngine(root)
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	e := &executor{dataDir: root.DataDir, logger: logger}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	e.repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(root.DataDir),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	e.auditor, err = audit.NewLogger(audit.LoggerConfig{
		Path:   conventions.AuditPath(root.DataDir),
		Key:    []byte(root.AuditKey),
		Sinks:  []audit.Sink{e.repo},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create audit logger: %w", err)
	}

	snapshots, err := snapshot.NewManager(snapshot.ManagerConfig{
		DataDir: conventions.SnapshotsPath(root.DataDir),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create snapshot manager: %w", err)
	}

	locker, err := workspace.NewLocker(workspace.LockerConfig{
		LocksDir:   conventions.LocksPath(root.DataDir),
		BusyPolicy: workspace.BusyPolicy(root.BusyPolicy),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create workspace locker: %w", err)
	}

	var recorder metrics.Recorder = metrics.Noop
	if !root.NoMetrics {
		e.metrics, err = metricsprometheus.NewRecorder(metricsprometheus.Config{})
		if err != nil {
			return nil, fmt.Errorf("could not create metrics recorder: %w", err)
		}
		recorder = e.metrics
	}

	cgroupRoot := root.CgroupRoot
	e.svc, err = run.NewService(run.ServiceConfig{
		WorkspaceRoot:   root.Workspace,
		Engine:          engine,
		Policies:        policies,
		Snapshots:       snapshots,
		Auditor:         e.auditor,
		Locker:          locker,
		Runs:            e.repo,
		Metrics:         recorder,
		Logger:          logger,
		Image:           root.Image,
		Network:         root.Network,
		DefaultTimeout:  root.Timeout,
		Limits:          reqLimits,
		Capabilities:    func() model.HostCapabilities { return limits.Probe(cgroupRoot) },
		RetainSnapshots: root.RetainSnapshots,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create run service: %w", err)
	}

	ok = true
	return e, nil
}

// Close flushes the metrics and releases the executor resources.
func (e *executor) Close() {
	if e.metrics != nil {
		if err := e.metrics.WriteTextfile(conventions.MetricsPath(e.dataDir)); err != nil {
			e.logger.Warningf("Could not write metrics: %s", err)
		}
	}
	if e.auditor != nil {
		if err := e.auditor.Close(); err != nil {
			e.logger.Errorf("Could not close audit log: %s", err)
		}
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warningf("Could not close repository: %s", err)
		}
	}
}
