package docker_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox/docker"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/sandbox/docker/dockermock"
)

func hijacked(t *testing.T, stdout, stderr string) types.HijackedResponse {
	t.Helper()

	var b bytes.Buffer
	if stdout != "" {
		_, err := stdcopy.NewStdWriter(&b, stdcopy.Stdout).Write([]byte(stdout))
		require.NoError(t, err)
	}
	if stderr != "" {
		_, err := stdcopy.NewStdWriter(&b, stdcopy.Stderr).Write([]byte(stderr))
		require.NoError(t, err)
	}

	conn, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&b)}
}

func testSpec() model.ContainerSpec {
	return model.ContainerSpec{
		Name:         "aisbx-01test",
		Image:        "ai-sandbox:py312",
		Cmd:          []string{"python", "main.py"},
		Env:          map[string]string{"PYTHONUNBUFFERED": "1", "A": "b"},
		User:         "1000:1000",
		WorkingDir:   "/app",
		Workspace:    model.BindMount{Source: "/tmp/ws", Target: "/app"},
		Tmpfs:        map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		ReadOnlyRoot: true,
		Limits: model.ResourceLimitProfile{Entries: []model.LimitEntry{
			{Kind: model.LimitKindMemory, Value: 512 * 1024 * 1024, Enforced: true},
			{Kind: model.LimitKindCPU, Value: 1e9, Enforced: false, Reason: "cpu controller unavailable"},
			{Kind: model.LimitKindPIDs, Value: 128, Enforced: true},
		}},
	}
}

func TestEngineCreate(t *testing.T) {
	tests := map[string]struct {
		spec      model.ContainerSpec
		mock      func(m *dockermock.MockDockerClient)
		expErr    bool
		expConfig func(t *testing.T, cfg *container.Config, hostCfg *container.HostConfig)
	}{
		"An invalid spec should fail.": {
			spec:   model.ContainerSpec{},
			mock:   func(m *dockermock.MockDockerClient) {},
			expErr: true,
		},

		"A missing image should be pulled before creating the container.": {
			spec: testSpec(),
			mock: func(m *dockermock.MockDockerClient) {
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, cerrdefs.ErrNotFound)
				m.On("ImagePull", mock.Anything, "ai-sandbox:py312", image.PullOptions{}).Once().Return(io.NopCloser(bytes.NewBufferString("{}")), nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "aisbx-01test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
				m.On("ContainerAttach", mock.Anything, "c1", mock.Anything).Once().Return(types.HijackedResponse{}, errors.New("attach failed"))
				m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true, RemoveVolumes: true}).Once().Return(nil)
			},
			expErr: true,
		},

		"A failing image inspection should fail.": {
			spec: testSpec(),
			mock: func(m *dockermock.MockDockerClient) {
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, errors.New("something"))
			},
			expErr: true,
		},

		"A limits rejection from the engine should be returned.": {
			spec: testSpec(),
			mock: func(m *dockermock.MockDockerClient) {
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "aisbx-01test").Once().Return(container.CreateResponse{}, errors.New("open /sys/fs/cgroup/pids.max: no such file or directory"))
			},
			expErr: true,
		},

		"The container should be created hardened with the enforced limits only.": {
			spec: testSpec(),
			mock: func(m *dockermock.MockDockerClient) {
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, nil)
				m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "aisbx-01test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
			},
			expConfig: func(t *testing.T, cfg *container.Config, hostCfg *container.HostConfig) {
				assert := assert.New(t)

				assert.Equal([]string{"python", "main.py"}, []string(cfg.Cmd))
				assert.Equal([]string{"A=b", "PYTHONUNBUFFERED=1"}, cfg.Env)
				assert.Equal("1000:1000", cfg.User)
				assert.Equal("/app", cfg.WorkingDir)
				assert.True(cfg.NetworkDisabled)

				assert.True(hostCfg.ReadonlyRootfs)
				assert.Equal(container.NetworkMode("none"), hostCfg.NetworkMode)
				assert.Equal([]string{"ALL"}, []string(hostCfg.CapDrop))
				assert.Equal([]string{"no-new-privileges"}, hostCfg.SecurityOpt)
				assert.Equal(map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"}, hostCfg.Tmpfs)
				assert.Equal([]mount.Mount{{Type: mount.TypeBind, Source: "/tmp/ws", Target: "/app"}}, hostCfg.Mounts)

				assert.Equal(int64(512*1024*1024), hostCfg.Memory)
				assert.Equal(int64(512*1024*1024), hostCfg.MemorySwap)
				assert.Equal(int64(0), hostCfg.NanoCPUs)
				require.NotNil(t, hostCfg.PidsLimit)
				assert.Equal(int64(128), *hostCfg.PidsLimit)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := dockermock.NewMockDockerClient(t)
			test.mock(m)

			var gotCfg *container.Config
			var gotHostCfg *container.HostConfig
			if test.expConfig != nil {
				m.On("ContainerAttach", mock.Anything, "c1", container.AttachOptions{Stream: true, Stdout: true, Stderr: true}).Once().Return(hijacked(t, "", ""), nil)
				for _, c := range m.ExpectedCalls {
					if c.Method == "ContainerCreate" {
						c.Run(func(args mock.Arguments) {
							gotCfg = args.Get(1).(*container.Config)
							gotHostCfg = args.Get(2).(*container.HostConfig)
						})
					}
				}
			}

			eng, err := docker.NewEngine(docker.EngineConfig{Client: m})
			require.NoError(t, err)

			_, err = eng.Create(context.Background(), test.spec)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.expConfig(t, gotCfg, gotHostCfg)
		})
	}
}

func TestEngineRunContainer(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	m := dockermock.NewMockDockerClient(t)
	waitC := make(chan container.WaitResponse, 1)
	waitC <- container.WaitResponse{StatusCode: 3}
	errC := make(chan error)

	m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, nil)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "aisbx-01test").Once().Return(container.CreateResponse{ID: "c1"}, nil)
	m.On("ContainerAttach", mock.Anything, "c1", mock.Anything).Once().Return(hijacked(t, "hello\n", "oops\n"), nil)
	m.On("ContainerWait", mock.Anything, "c1", container.WaitConditionNextExit).Once().Return((<-chan container.WaitResponse)(waitC), (<-chan error)(errC))
	m.On("ContainerStart", mock.Anything, "c1", container.StartOptions{}).Once().Return(nil)
	m.On("ContainerKill", mock.Anything, "c1", "KILL").Once().Return(cerrdefs.ErrNotFound)
	m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true, RemoveVolumes: true}).Once().Return(nil)

	eng, err := docker.NewEngine(docker.EngineConfig{Client: m})
	require.NoError(err)

	ctx := context.Background()
	c, err := eng.Create(ctx, testSpec())
	require.NoError(err)
	assert.Equal("c1", c.ID())

	require.NoError(c.Start(ctx))

	var stdout, stderr []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		stderr, _ = io.ReadAll(c.Stderr())
	}()
	stdout, err = io.ReadAll(c.Stdout())
	require.NoError(err)
	<-done

	code, err := c.Wait(ctx)
	require.NoError(err)
	assert.Equal(3, code)
	assert.Equal("hello\n", string(stdout))
	assert.Equal("oops\n", string(stderr))

	assert.NoError(c.Kill(ctx))
	assert.NoError(c.Remove(ctx))
}

func TestEngineCheck(t *testing.T) {
	tests := map[string]struct {
		image     string
		mock      func(m *dockermock.MockDockerClient)
		expStatus []model.CheckStatus
	}{
		"An unreachable daemon should be an error.": {
			image: "ai-sandbox:py312",
			mock: func(m *dockermock.MockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{}, errors.New("connection refused"))
			},
			expStatus: []model.CheckStatus{model.CheckStatusError},
		},

		"A present image should be ok.": {
			image: "ai-sandbox:py312",
			mock: func(m *dockermock.MockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{APIVersion: "1.47"}, nil)
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, nil)
			},
			expStatus: []model.CheckStatus{model.CheckStatusOK, model.CheckStatusOK},
		},

		"A missing image should be a warning.": {
			image: "ai-sandbox:py312",
			mock: func(m *dockermock.MockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{APIVersion: "1.47"}, nil)
				m.On("ImageInspect", mock.Anything, "ai-sandbox:py312").Once().Return(image.InspectResponse{}, cerrdefs.ErrNotFound)
			},
			expStatus: []model.CheckStatus{model.CheckStatusOK, model.CheckStatusWarning},
		},

		"Without image only the daemon should be checked.": {
			mock: func(m *dockermock.MockDockerClient) {
				m.On("Ping", mock.Anything).Once().Return(types.Ping{APIVersion: "1.47"}, nil)
			},
			expStatus: []model.CheckStatus{model.CheckStatusOK},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := dockermock.NewMockDockerClient(t)
			test.mock(m)

			eng, err := docker.NewEngine(docker.EngineConfig{Client: m, Image: test.image})
			require.NoError(t, err)

			var got []model.CheckStatus
			for _, r := range eng.Check(context.Background()) {
				got = append(got, r.Status)
			}
			assert.Equal(t, test.expStatus, got)
		})
	}
}
