package docker

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

//go:generate mockery --case underscore --output dockermock --outpkg dockermock --name DockerClient --structname MockDockerClient

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	// Image is the sandbox image checked by the preflight checks.
	Image string
	// DisablePull makes missing images an error instead of pulling them.
	DisablePull bool
	Logger      log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		// Create a default Docker client
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Engine interface.
type Engine struct {
	client      DockerClient
	image       string
	disablePull bool
	logger      log.Logger
}

// NewEngine creates a new Docker engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client:      cfg.Client,
		image:       cfg.Image,
		disablePull: cfg.DisablePull,
		logger:      cfg.Logger,
	}, nil
}

// Check verifies the Docker daemon is reachable and the sandbox image is present.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	ping, err := e.client.Ping(ctx)
	if err != nil {
		return append(results, model.CheckResult{
			ID:        "docker_daemon",
			Component: "engine",
			Message:   fmt.Sprintf("Docker daemon unreachable: %s", err),
			Status:    model.CheckStatusError,
		})
	}
	results = append(results, model.CheckResult{
		ID:        "docker_daemon",
		Component: "engine",
		Message:   fmt.Sprintf("Docker daemon reachable (API %s)", ping.APIVersion),
		Status:    model.CheckStatusOK,
	})

	if e.image == "" {
		return results
	}

	_, err = e.client.ImageInspect(ctx, e.image)
	switch {
	case err == nil:
		results = append(results, model.CheckResult{
			ID:        "sandbox_image",
			Component: "engine",
			Message:   fmt.Sprintf("Image %s present", e.image),
			Status:    model.CheckStatusOK,
		})
	case cerrdefs.IsNotFound(err) && !e.disablePull:
		results = append(results, model.CheckResult{
			ID:        "sandbox_image",
			Component: "engine",
			Message:   fmt.Sprintf("Image %s missing, it will be pulled on first run", e.image),
			Status:    model.CheckStatusWarning,
		})
	default:
		results = append(results, model.CheckResult{
			ID:        "sandbox_image",
			Component: "engine",
			Message:   fmt.Sprintf("Image %s unusable: %s", e.image, err),
			Status:    model.CheckStatusError,
		})
	}

	return results
}

// Create creates the isolated container and attaches to its output streams.
func (e *Engine) Create(ctx context.Context, spec model.ContainerSpec) (sandbox.Container, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if err := e.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	cfg, hostCfg := containerConfigs(spec)
	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		e.logger.Warningf("Container %s: %s", spec.Name, w)
	}

	c := &dockerContainer{
		id:     resp.ID,
		name:   spec.Name,
		client: e.client,
		logger: e.logger,
	}

	// Attach before starting so no output is lost.
	hijack, err := e.client.ContainerAttach(ctx, resp.ID, container.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		_ = c.Remove(context.Background())
		return nil, fmt.Errorf("failed to attach to container %s: %w", spec.Name, err)
	}
	c.attach(hijack)

	e.logger.Debugf("Created container %s (%s)", spec.Name, resp.ID)
	return c, nil
}

func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	_, err := e.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if e.disablePull {
		return fmt.Errorf("image %s: %w", ref, model.ErrNotFound)
	}

	e.logger.Infof("Pulling image: %s", ref)
	pullResp, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer pullResp.Close()

	// Consume the pull response to ensure it completes
	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func containerConfigs(spec model.ContainerSpec) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env))
	for _, k := range slices.Sorted(maps.Keys(spec.Env)) {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             env,
		User:            spec.User,
		WorkingDir:      spec.WorkingDir,
		Labels:          spec.Labels,
		NetworkDisabled: !spec.Network,
		AttachStdout:    true,
		AttachStderr:    true,
	}

	hostCfg := &container.HostConfig{
		ReadonlyRootfs: spec.ReadOnlyRoot,
		Tmpfs:          spec.Tmpfs,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Workspace.Source,
			Target: spec.Workspace.Target,
		}},
	}
	if !spec.Network {
		hostCfg.NetworkMode = container.NetworkMode("none")
	}

	// Only enforced limits reach the engine, advisory ones are only recorded.
	for _, l := range spec.Limits.Entries {
		if !l.Enforced {
			continue
		}
		switch l.Kind {
		case model.LimitKindMemory:
			hostCfg.Resources.Memory = l.Value
			hostCfg.Resources.MemorySwap = l.Value
		case model.LimitKindCPU:
			hostCfg.Resources.NanoCPUs = l.Value
		case model.LimitKindPIDs:
			pids := l.Value
			hostCfg.Resources.PidsLimit = &pids
		}
	}

	return cfg, hostCfg
}

type dockerContainer struct {
	id     string
	name   string
	client DockerClient
	logger log.Logger

	stdout *io.PipeReader
	stderr *io.PipeReader
	hijack *types.HijackedResponse

	waitCtx    context.Context
	waitCancel context.CancelFunc
	waitC      <-chan container.WaitResponse
	errC       <-chan error

	closeOnce sync.Once
}

// attach demultiplexes the attached stream into stdout and stderr pipes, both
// end when the container process ends.
func (c *dockerContainer) attach(hijack types.HijackedResponse) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	c.stdout, c.stderr, c.hijack = outR, errR, &hijack

	go func() {
		_, err := stdcopy.StdCopy(outW, errW, hijack.Reader)
		outW.CloseWithError(err)
		errW.CloseWithError(err)
	}()
}

func (c *dockerContainer) ID() string        { return c.id }
func (c *dockerContainer) Stdout() io.Reader { return c.stdout }
func (c *dockerContainer) Stderr() io.Reader { return c.stderr }

func (c *dockerContainer) Start(ctx context.Context) error {
	// Register the wait before starting so a fast exit is not missed.
	c.waitCtx, c.waitCancel = context.WithCancel(context.Background())
	c.waitC, c.errC = c.client.ContainerWait(c.waitCtx, c.id, container.WaitConditionNextExit)

	if err := c.client.ContainerStart(ctx, c.id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", c.name, err)
	}
	return nil
}

func (c *dockerContainer) Wait(ctx context.Context) (int, error) {
	if c.waitC == nil {
		return 0, fmt.Errorf("container %s not started: %w", c.name, model.ErrNotValid)
	}

	select {
	case resp := <-c.waitC:
		if resp.Error != nil && resp.Error.Message != "" {
			return 0, fmt.Errorf("container %s wait: %s", c.name, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-c.errC:
		return 0, fmt.Errorf("container %s wait: %w", c.name, err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *dockerContainer) Kill(ctx context.Context) error {
	err := c.client.ContainerKill(ctx, c.id, "KILL")
	if err != nil && !cerrdefs.IsNotFound(err) && !cerrdefs.IsConflict(err) {
		return fmt.Errorf("failed to kill container %s: %w", c.name, err)
	}
	return nil
}

func (c *dockerContainer) Remove(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.waitCancel != nil {
			c.waitCancel()
		}
		if c.hijack != nil {
			c.hijack.Close()
		}
	})

	err := c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", c.name, err)
	}

	c.logger.Debugf("Removed container %s", c.name)
	return nil
}
