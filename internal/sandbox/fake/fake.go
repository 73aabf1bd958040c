package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox"
)

// Behavior is what a fake container does when started.
type Behavior struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Duration is how long the process runs, it can be killed before.
	Duration time.Duration
	// Mutate simulates the process writes over the workspace mount source.
	Mutate func(workspace string) error
	// CreateErr is returned by Create.
	CreateErr error
	// StartErr is returned by Start.
	StartErr error
}

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Behavior returns the behavior for each created container, attempt starts at 1
	// and counts the containers created by the engine.
	Behavior func(spec model.ContainerSpec, attempt int) Behavior
	Checks   []model.CheckResult
	Logger   log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Behavior == nil {
		c.Behavior = func(model.ContainerSpec, int) Behavior { return Behavior{} }
	}

	if c.Checks == nil {
		c.Checks = []model.CheckResult{{ID: "fake_engine", Component: "engine", Message: "Fake engine ready", Status: model.CheckStatusOK}}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Fake"})
	return nil
}

// Engine is a fake implementation of the sandbox.Engine interface.
// It simulates containers without a container runtime.
type Engine struct {
	behavior func(model.ContainerSpec, int) Behavior
	checks   []model.CheckResult
	logger   log.Logger

	mu    sync.Mutex
	specs []model.ContainerSpec
	live  map[string]*Container
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		behavior: cfg.Behavior,
		checks:   cfg.Checks,
		logger:   cfg.Logger,
		live:     map[string]*Container{},
	}, nil
}

// Check returns the configured checks.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	return e.checks
}

// Create creates a fake container.
func (e *Engine) Create(ctx context.Context, spec model.ContainerSpec) (sandbox.Container, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.specs = append(e.specs, spec)
	attempt := len(e.specs)
	e.mu.Unlock()

	b := e.behavior(spec, attempt)
	if b.CreateErr != nil {
		return nil, b.CreateErr
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	c := &Container{
		id:       ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		spec:     spec,
		behavior: b,
		stdoutR:  outR,
		stdoutW:  outW,
		stderrR:  errR,
		stderrW:  errW,
		killed:   make(chan struct{}),
		done:     make(chan struct{}),
		engine:   e,
	}

	e.mu.Lock()
	e.live[c.id] = c
	e.mu.Unlock()

	e.logger.Debugf("Created fake container %s", c.id)
	return c, nil
}

// Specs returns the specs of every created container.
func (e *Engine) Specs() []model.ContainerSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ContainerSpec(nil), e.specs...)
}

// Live returns the number of created and not removed containers.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Container is a fake container.
type Container struct {
	id       string
	spec     model.ContainerSpec
	behavior Behavior
	engine   *Engine

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	killOnce sync.Once
	killed   chan struct{}
	done     chan struct{}
	exitCode int
	started  bool
}

func (c *Container) ID() string        { return c.id }
func (c *Container) Stdout() io.Reader { return c.stdoutR }
func (c *Container) Stderr() io.Reader { return c.stderrR }

// Start runs the fake process in background.
func (c *Container) Start(ctx context.Context) error {
	if c.behavior.StartErr != nil {
		return c.behavior.StartErr
	}
	c.started = true

	go func() {
		defer close(c.done)
		defer c.stdoutW.Close()
		defer c.stderrW.Close()

		if c.behavior.Mutate != nil {
			if err := c.behavior.Mutate(c.spec.Workspace.Source); err != nil {
				_, _ = io.Copy(c.stderrW, strings.NewReader(err.Error()))
				c.exitCode = 1
				return
			}
		}

		// Write output concurrently, readers drain it while we run.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = io.Copy(c.stdoutW, strings.NewReader(c.behavior.Stdout))
		}()
		go func() {
			defer wg.Done()
			_, _ = io.Copy(c.stderrW, strings.NewReader(c.behavior.Stderr))
		}()

		select {
		case <-time.After(c.behavior.Duration):
			c.exitCode = c.behavior.ExitCode
		case <-c.killed:
			c.exitCode = 137
		}
		wg.Wait()
	}()

	return nil
}

// Wait waits for the fake process to end.
func (c *Container) Wait(ctx context.Context) (int, error) {
	if !c.started {
		return 0, fmt.Errorf("container %s not started: %w", c.id, model.ErrNotValid)
	}

	select {
	case <-c.done:
		return c.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill kills the fake process.
func (c *Container) Kill(ctx context.Context) error {
	c.killOnce.Do(func() { close(c.killed) })
	return nil
}

// Remove removes the fake container.
func (c *Container) Remove(ctx context.Context) error {
	_ = c.Kill(ctx)
	if !c.started {
		c.stdoutW.Close()
		c.stderrW.Close()
	}

	c.engine.mu.Lock()
	delete(c.engine.live, c.id)
	c.engine.mu.Unlock()
	return nil
}
