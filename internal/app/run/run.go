package run

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/limits"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/metrics"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/policy"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/storage"
)

// SnapshotManager captures and restores the workspace state.
type SnapshotManager interface {
	Snapshot(ctx context.Context, workspaceRoot string) (model.SnapshotHandle, error)
	Restore(ctx context.Context, handle model.SnapshotHandle) (model.RestoreReport, error)
	Discard(ctx context.Context, handle model.SnapshotHandle) error
	Archive(ctx context.Context, handle model.SnapshotHandle) error
}

// AuditRecorder durably records audit events.
type AuditRecorder interface {
	Record(ctx context.Context, e model.AuditEvent) (model.AuditEvent, error)
}

// WorkspaceLocker gives exclusive access to a workspace.
type WorkspaceLocker interface {
	Acquire(ctx context.Context, workspaceRoot string) (release func(), err error)
}

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxOutputBytes  = 64 * 1024
	defaultMaxAttempts     = 4
	defaultRestoreAttempts = 3
	killTimeout            = 10 * time.Second

	// maxAuditedPaths is the max paths listed per audit event.
	maxAuditedPaths = 1000
)

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	// WorkspaceRoot is the host directory mounted in the sandbox, created if missing.
	WorkspaceRoot string
	Engine        sandbox.Engine
	Policies      *policy.Store
	Snapshots     SnapshotManager
	Auditor       AuditRecorder
	Locker        WorkspaceLocker
	// Runs stores the run history, optional.
	Runs    storage.RunRepository
	Metrics metrics.Recorder
	Logger  log.Logger

	Image          string
	Network        bool
	DefaultTimeout time.Duration
	Limits         model.RequestedLimits
	// Capabilities probes the host control group controllers before each run.
	Capabilities func() model.HostCapabilities
	// MaxOutputBytes is the captured size per output stream, the rest is discarded.
	MaxOutputBytes int
	// ShellPrefix runs shell mode command lines, the line is appended as the last argument.
	ShellPrefix []string
	User        string
	// RetainSnapshots archives the snapshots of committed runs instead of discarding them.
	RetainSnapshots bool
	// MaxAttempts is the max container creations when limits need to be degraded.
	MaxAttempts int
	// RestoreAttempts is the max rollback restores while the workspace diverges.
	RestoreAttempts int
	Clock           func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required: %w", model.ErrConfiguration)
	}
	root, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("could not resolve workspace root: %w: %w", model.ErrConfiguration, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("could not create workspace root: %w: %w", model.ErrConfiguration, err)
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return fmt.Errorf("workspace root %q is not a directory: %w", root, model.ErrConfiguration)
	}
	// Aliases of a workspace share its lock and snapshot head.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("could not resolve workspace root: %w: %w", model.ErrConfiguration, err)
	}
	c.WorkspaceRoot = root

	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Policies == nil {
		return fmt.Errorf("policy store is required")
	}
	if c.Snapshots == nil {
		return fmt.Errorf("snapshot manager is required")
	}
	if c.Auditor == nil {
		return fmt.Errorf("auditor is required")
	}
	if c.Locker == nil {
		return fmt.Errorf("workspace locker is required")
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Image == "" {
		c.Image = conventions.DefaultImage
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.Capabilities == nil {
		c.Capabilities = func() model.HostCapabilities { return limits.Probe(limits.DefaultCgroupRoot) }
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if len(c.ShellPrefix) == 0 {
		c.ShellPrefix = []string{"bash", "-lc"}
	}
	if c.User == "" {
		c.User = conventions.ContainerUser
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RestoreAttempts <= 0 {
		c.RestoreAttempts = defaultRestoreAttempts
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})
	return nil
}

// Service is the sandbox executor of a workspace. It takes every command
// request through policy, snapshot, isolated execution and commit or rollback.
type Service struct {
	root      string
	engine    sandbox.Engine
	policies  *policy.Store
	snapshots SnapshotManager
	auditor   AuditRecorder
	locker    WorkspaceLocker
	runs      storage.RunRepository
	metrics   metrics.Recorder
	logger    log.Logger

	image           string
	network         bool
	defaultTimeout  time.Duration
	limits          model.RequestedLimits
	capabilities    func() model.HostCapabilities
	maxOutputBytes  int
	shellPrefix     []string
	user            string
	retainSnapshots bool
	maxAttempts     int
	restoreAttempts int
	clock           func() time.Time
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		root:            cfg.WorkspaceRoot,
		engine:          cfg.Engine,
		policies:        cfg.Policies,
		snapshots:       cfg.Snapshots,
		auditor:         cfg.Auditor,
		locker:          cfg.Locker,
		runs:            cfg.Runs,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		image:           cfg.Image,
		network:         cfg.Network,
		defaultTimeout:  cfg.DefaultTimeout,
		limits:          cfg.Limits,
		capabilities:    cfg.Capabilities,
		maxOutputBytes:  cfg.MaxOutputBytes,
		shellPrefix:     cfg.ShellPrefix,
		user:            cfg.User,
		retainSnapshots: cfg.RetainSnapshots,
		maxAttempts:     cfg.MaxAttempts,
		restoreAttempts: cfg.RestoreAttempts,
		clock:           cfg.Clock,
	}, nil
}

// WorkspaceRoot returns the absolute workspace root of the service.
func (s *Service) WorkspaceRoot() string { return s.root }

// SubmitRun runs a single command request. Domain outcomes (rejection, non
// zero exit, timeout, cancellation, restore divergence) are reported in the
// result. Infrastructure failures are returned as a *model.RunError carrying
// the correlation ID.
func (s *Service) SubmitRun(ctx context.Context, req model.CommandRequest) (*model.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command request: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(s.clock()), rand.Reader).String()
	run := model.NewRun(id, s.root, req, s.clock().UTC())
	logger := s.logger.WithValues(log.Kv{"correlation-id": id})

	res, err := s.submit(ctx, run, logger)
	if err != nil {
		run.Error = err.Error()
		s.saveRun(ctx, run, logger)
		return nil, &model.RunError{CorrelationID: id, Err: err}
	}

	return res, nil
}

// SubmitSequence runs the requests in order and stops at the first one that
// doesn't commit.
func (s *Service) SubmitSequence(ctx context.Context, reqs []model.CommandRequest) (*model.SequenceResult, error) {
	res := &model.SequenceResult{FailedIndex: -1}
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := s.SubmitRun(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}

		res.Results = append(res.Results, *r)
		if !r.Committed() {
			res.FailedIndex = i
			s.logger.Infof("Sequence stopped at request %d (%s): %s", i, req.CommandLine(), r.State)
			break
		}
	}

	return res, nil
}

func (s *Service) submit(ctx context.Context, run *model.Run, logger log.Logger) (*model.RunResult, error) {
	req := run.Request

	// Policy.
	pol := s.policies.Current()
	run.Decision = pol.Evaluate(req)
	env, stripped := pol.FilterEnv(req.Env)
	run.StrippedEnv = stripped
	s.metrics.MeasurePolicyDecision(ctx, run.Decision.Verdict)

	err := s.record(ctx, run, model.AuditEvent{
		Kind:          model.AuditEventKindPolicyDecision,
		Command:       req.CommandLine(),
		Decision:      run.Decision.Verdict,
		MatchedRule:   run.Decision.MatchedRule,
		Reason:        run.Decision.Reason,
		PolicyVersion: run.Decision.PolicyVersion,
		StrippedEnv:   stripped,
		Paths:         req.Paths,
	})
	if err != nil {
		return nil, err
	}

	if !run.Decision.Allowed() {
		logger.Infof("Command rejected by policy: %s", run.Decision.Reason)
		if err := run.Transition(model.RunStatePolicyRejected); err != nil {
			return nil, err
		}
		return s.close(ctx, run, logger)
	}
	if err := run.Transition(model.RunStatePolicyChecked); err != nil {
		return nil, err
	}
	if len(stripped) > 0 {
		logger.Warningf("Environment variables stripped: %v", stripped)
	}

	// Exclusive workspace access from here to the run closure.
	release, err := s.locker.Acquire(ctx, s.root)
	if err != nil {
		s.recordClosedWithError(ctx, run, err, logger)
		return nil, err
	}
	defer release()

	// Snapshot.
	start := s.clock()
	handle, err := s.snapshots.Snapshot(ctx, s.root)
	s.metrics.MeasureSnapshot(ctx, "create", err == nil, s.clock().Sub(start))
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrSnapshotFailure, err)
		s.recordClosedWithError(ctx, run, err, logger)
		return nil, err
	}
	run.Snapshot = &handle
	if err := run.Transition(model.RunStateSnapshotTaken); err != nil {
		return nil, err
	}

	err = s.record(ctx, run, model.AuditEvent{
		Kind:       model.AuditEventKindSnapshotCreated,
		SnapshotID: handle.ID,
		Files:      handle.Files,
	})
	if err != nil {
		s.discardSnapshot(ctx, handle, logger)
		return nil, err
	}

	// Limits.
	run.Limits = limits.Build(s.limits, s.capabilities())
	for _, e := range run.Limits.Entries {
		if !e.Enforced {
			logger.Warningf("Limit %s is advisory: %s", e.Kind, e.Reason)
		}
	}

	// Start the isolated process, degrading limits the engine can't enforce.
	spec := s.containerSpec(run, env, pol.RuleSet().WorkingSubdir)
	var c sandbox.Container
	for attempt := 1; ; attempt++ {
		spec.Name = conventions.ContainerName(run.CorrelationID, attempt)
		spec.Limits = run.Limits

		c, err = s.startContainer(ctx, run, spec)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrAuditWriteFailure) {
			s.rollbackSilently(ctx, run, logger)
			return nil, err
		}

		degraded, kind, ok := limits.Fallback(run.Limits, err)
		if !ok || attempt >= s.maxAttempts {
			err = fmt.Errorf("%w: %w", model.ErrExecution, err)
			if rerr := s.rollback(ctx, run, err, logger); rerr != nil {
				return nil, rerr
			}
			if _, cerr := s.close(ctx, run, logger); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}

		logger.Warningf("Engine rejected the %s limit, retrying with it as advisory: %s", kind, err)
		run.Limits = degraded
		run.Fallbacks = append(run.Fallbacks, kind)
		s.metrics.MeasureLimitFallback(ctx, kind)
	}

	// Execution.
	startedAt := s.clock().UTC()
	run.StartedAt = &startedAt
	if err := run.Transition(model.RunStateRunning); err != nil {
		return nil, err
	}

	outcome, execErr := s.execute(ctx, run, c, logger)
	finishedAt := s.clock().UTC()
	run.FinishedAt = &finishedAt
	if err := run.Transition(outcome); err != nil {
		return nil, err
	}

	end := model.AuditEvent{
		Kind:            model.AuditEventKindExecutionEnd,
		ExitCode:        run.ExitCode,
		DurationMS:      run.Duration().Milliseconds(),
		Stdout:          run.Stdout,
		Stderr:          run.Stderr,
		StdoutTruncated: run.StdoutTruncated,
		StderrTruncated: run.StderrTruncated,
		State:           outcome,
	}
	if execErr != nil {
		end.Error = execErr.Error()
	}
	if err := s.record(ctx, run, end); err != nil {
		s.removeContainer(c, logger)
		s.rollbackSilently(ctx, run, logger)
		return nil, err
	}
	s.removeContainer(c, logger)

	// Closure.
	if outcome == model.RunStateSucceeded {
		if err := s.commit(ctx, run, logger); err != nil {
			return nil, err
		}
		return s.close(ctx, run, logger)
	}

	if err := s.rollback(ctx, run, execErr, logger); err != nil {
		return nil, err
	}
	return s.close(ctx, run, logger)
}

func (s *Service) containerSpec(run *model.Run, env map[string]string, workingSubdir string) model.ContainerSpec {
	req := run.Request
	var cmd []string
	if req.Shell {
		cmd = append(slices.Clone(s.shellPrefix), req.Line)
	} else {
		cmd = append([]string{req.Command}, req.Args...)
	}

	mountDest := conventions.MountDest(workingSubdir)
	return model.ContainerSpec{
		Image:        s.image,
		Cmd:          cmd,
		Env:          env,
		User:         s.user,
		WorkingDir:   mountDest,
		Workspace:    model.BindMount{Source: s.root, Target: mountDest},
		Tmpfs:        conventions.ContainerTmpfs(),
		ReadOnlyRoot: true,
		Network:      s.network,
		Labels:       map[string]string{conventions.CorrelationIDLabel: run.CorrelationID},
	}
}

func (s *Service) timeout(req model.CommandRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return s.defaultTimeout
}

// startContainer creates the container and starts it once the execution start
// has been durably recorded.
func (s *Service) startContainer(ctx context.Context, run *model.Run, spec model.ContainerSpec) (sandbox.Container, error) {
	c, err := s.engine.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	err = s.record(ctx, run, model.AuditEvent{
		Kind:      model.AuditEventKindExecutionStart,
		Command:   run.Request.CommandLine(),
		Image:     spec.Image,
		MountDest: spec.Workspace.Target,
		TimeoutMS: s.timeout(run.Request).Milliseconds(),
		Network:   spec.Network,
		Limits:    spec.Limits.Entries,
		Fallbacks: run.Fallbacks,
	})
	if err != nil {
		s.removeContainer(c, s.logger)
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		s.removeContainer(c, s.logger)
		aerr := s.record(ctx, run, model.AuditEvent{
			Kind:  model.AuditEventKindExecutionEnd,
			State: model.RunStateFailed,
			Error: err.Error(),
		})
		if aerr != nil {
			return nil, aerr
		}
		return nil, err
	}

	return c, nil
}

// execute waits for the process while draining its output. It returns the
// execution outcome, the error is set when the engine failed.
func (s *Service) execute(ctx context.Context, run *model.Run, c sandbox.Container, logger log.Logger) (model.RunState, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout(run.Request))
	defer cancel()

	stdout := newBoundedBuffer(s.maxOutputBytes)
	stderr := newBoundedBuffer(s.maxOutputBytes)
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, c.Stdout())
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, c.Stderr())
		return err
	})

	var (
		outcome model.RunState
		execErr error
	)
	code, err := c.Wait(runCtx)
	switch {
	case err == nil && code == 0:
		outcome = model.RunStateSucceeded
		run.ExitCode = &code
	case err == nil:
		outcome = model.RunStateFailed
		run.ExitCode = &code
		execErr = fmt.Errorf("process exited with code %d: %w", code, model.ErrExecution)
	case ctx.Err() != nil:
		outcome = model.RunStateCanceled
		execErr = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = model.RunStateTimedOut
		execErr = fmt.Errorf("run exceeded %s: %w", s.timeout(run.Request), model.ErrTimeoutExceeded)
	default:
		outcome = model.RunStateFailed
		execErr = fmt.Errorf("%w: %w", model.ErrExecution, err)
	}

	if err != nil {
		killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
		defer cancel()
		if kerr := c.Kill(killCtx); kerr != nil {
			logger.Warningf("Could not kill container %s, removing it: %s", c.ID(), kerr)
			s.removeContainer(c, logger)
		}
	}

	if err := g.Wait(); err != nil {
		logger.Warningf("Output streams ended with error: %s", err)
	}

	run.Stdout, run.StdoutTruncated = stdout.String(), stdout.Truncated()
	run.Stderr, run.StderrTruncated = stderr.String(), stderr.Truncated()

	logger.Infof("Command %s", outcome)
	return outcome, execErr
}

func (s *Service) commit(ctx context.Context, run *model.Run, logger log.Logger) error {
	handle := *run.Snapshot
	reason := "discarded"
	var err error
	if s.retainSnapshots {
		reason = "archived"
		err = s.snapshots.Archive(ctx, handle)
	} else {
		err = s.snapshots.Discard(ctx, handle)
	}
	if err != nil {
		// Mutations are already in place, a leftover snapshot only costs space.
		logger.Warningf("Could not release snapshot %s: %s", handle.ID, err)
	} else {
		err := s.record(ctx, run, model.AuditEvent{
			Kind:       model.AuditEventKindSnapshotDiscarded,
			SnapshotID: handle.ID,
			Reason:     reason,
		})
		if err != nil {
			return err
		}
	}

	return run.Transition(model.RunStateCommitted)
}

// rollback restores the workspace to the run snapshot, retrying while the
// restore diverges. A divergence is reported, never absorbed.
func (s *Service) rollback(ctx context.Context, run *model.Run, cause error, logger log.Logger) error {
	ctx = context.WithoutCancel(ctx)
	handle := *run.Snapshot

	ev := model.AuditEvent{
		Kind:       model.AuditEventKindRollback,
		SnapshotID: handle.ID,
		State:      run.State,
	}
	if cause != nil {
		ev.Reason = cause.Error()
	}
	if err := s.record(ctx, run, ev); err != nil {
		s.rollbackSilently(ctx, run, logger)
		return err
	}

	start := s.clock()
	var (
		report model.RestoreReport
		err    error
	)
	for i := 0; i < s.restoreAttempts; i++ {
		report, err = s.snapshots.Restore(ctx, handle)
		if err != nil || !report.Diverged() {
			break
		}
		logger.Warningf("Restore attempt %d diverged on %d paths", i+1, len(report.Failed))
	}
	s.metrics.MeasureSnapshot(ctx, "restore", err == nil && !report.Diverged(), s.clock().Sub(start))
	if err != nil {
		report = model.RestoreReport{SnapshotID: handle.ID, Failed: []model.PathFailure{{Path: ".", Reason: err.Error()}}}
	}
	run.Restore = &report

	restored, restoredCut := capPaths(report.Restored)
	removed, removedCut := capPaths(report.Removed)
	err = s.record(ctx, run, model.AuditEvent{
		Kind:           model.AuditEventKindSnapshotRestored,
		SnapshotID:     handle.ID,
		RestoredPaths:  restored,
		RemovedPaths:   removed,
		RestoredCount:  len(report.Restored),
		RemovedCount:   len(report.Removed),
		PathsTruncated: restoredCut || removedCut,
	})
	if err != nil {
		return err
	}

	if report.Diverged() {
		logger.Errorf("Workspace diverged from snapshot %s on %d paths", handle.ID, len(report.Failed))
		s.metrics.MeasureRestoreDivergence(ctx, len(report.Failed))
		failed, failedCut := capPaths(report.Failed)
		err := s.record(ctx, run, model.AuditEvent{
			Kind:           model.AuditEventKindRestoreDivergence,
			SnapshotID:     handle.ID,
			FailedPaths:    failed,
			FailedCount:    len(report.Failed),
			PathsTruncated: failedCut,
			Error:          model.ErrRestoreDivergence.Error(),
		})
		if err != nil {
			return err
		}
	} else {
		// Kept on divergence so the restore can be retried by hand.
		s.discardSnapshot(ctx, handle, logger)
	}

	return run.Transition(model.RunStateRolledBack)
}

// rollbackSilently restores the workspace when the audit trail can't be
// written anymore. No further audit events are attempted.
func (s *Service) rollbackSilently(ctx context.Context, run *model.Run, logger log.Logger) {
	if run.Snapshot == nil {
		return
	}

	report, err := s.snapshots.Restore(context.WithoutCancel(ctx), *run.Snapshot)
	if err != nil {
		logger.Errorf("Could not restore snapshot %s: %s", run.Snapshot.ID, err)
		return
	}
	run.Restore = &report
	if report.Diverged() {
		logger.Errorf("Workspace diverged from snapshot %s on %v", run.Snapshot.ID, report.FailedPaths())
		return
	}
	if run.State.CanTransition(model.RunStateRolledBack) {
		_ = run.Transition(model.RunStateRolledBack)
	}
}

// capPaths keeps the first paths of a list that is audited.
func capPaths[T any](paths []T) ([]T, bool) {
	if len(paths) > maxAuditedPaths {
		return paths[:maxAuditedPaths], true
	}
	return paths, false
}

func (s *Service) discardSnapshot(ctx context.Context, handle model.SnapshotHandle, logger log.Logger) {
	if err := s.snapshots.Discard(context.WithoutCancel(ctx), handle); err != nil {
		logger.Warningf("Could not discard snapshot %s: %s", handle.ID, err)
	}
}

// close records the run closure and returns its result.
func (s *Service) close(ctx context.Context, run *model.Run, logger log.Logger) (*model.RunResult, error) {
	err := s.record(ctx, run, model.AuditEvent{
		Kind:  model.AuditEventKindRunClosed,
		State: run.State,
	})
	if err != nil {
		return nil, err
	}

	s.saveRun(ctx, run, logger)
	res := run.Result()
	s.metrics.MeasureRun(ctx, res.State, res.Closure, res.Duration)

	return &res, nil
}

// recordClosedWithError closes the audit trail of a run that failed before
// any execution.
func (s *Service) recordClosedWithError(ctx context.Context, run *model.Run, cause error, logger log.Logger) {
	if errors.Is(cause, model.ErrAuditWriteFailure) {
		return
	}

	err := s.record(ctx, run, model.AuditEvent{
		Kind:  model.AuditEventKindRunClosed,
		State: run.State,
		Error: cause.Error(),
	})
	if err != nil {
		logger.Errorf("Could not record run closure: %s", err)
	}
}

func (s *Service) record(ctx context.Context, run *model.Run, e model.AuditEvent) error {
	e.CorrelationID = run.CorrelationID
	e.Timestamp = s.clock()
	if _, err := s.auditor.Record(context.WithoutCancel(ctx), e); err != nil {
		return fmt.Errorf("could not record %s event: %w", e.Kind, err)
	}
	return nil
}

func (s *Service) saveRun(ctx context.Context, run *model.Run, logger log.Logger) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveRun(context.WithoutCancel(ctx), *run); err != nil {
		logger.Warningf("Could not save run history: %s", err)
	}
}

func (s *Service) removeContainer(c sandbox.Container, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := c.Remove(ctx); err != nil {
		logger.Warningf("Could not remove container %s: %s", c.ID(), err)
	}
}
