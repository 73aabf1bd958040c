package aisbx

import (
	"context"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/conventions"
)

// DockerHelper provides utilities for interacting with Docker in tests.
type DockerHelper struct {
	client *client.Client
}

// NewDockerHelper creates a new Docker helper for tests.
func NewDockerHelper(t *testing.T) *DockerHelper {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err, "Failed to create Docker client")
	t.Cleanup(func() { _ = cli.Close() })

	return &DockerHelper{client: cli}
}

// RunContainers returns the containers (running or not) created for a run.
func (d *DockerHelper) RunContainers(t *testing.T, correlationID string) []container.Summary {
	t.Helper()

	containers, err := d.client.ContainerList(context.Background(), container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", conventions.CorrelationIDLabel+"="+correlationID)),
	})
	require.NoError(t, err, "Failed to list containers")

	return containers
}

// RequireNoRunContainers asserts that every container of a run was removed.
func (d *DockerHelper) RequireNoRunContainers(t *testing.T, correlationID string) {
	t.Helper()

	containers := d.RunContainers(t, correlationID)
	require.Empty(t, containers, "Expected run %s containers to be removed", correlationID)
}

// CleanupAllContainers removes all containers with names starting with the sandbox prefix.
func (d *DockerHelper) CleanupAllContainers(t *testing.T) {
	ctx := context.Background()
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		t.Logf("Warning: Failed to list containers during cleanup: %v", err)
		return
	}

	cleaned := 0
	for _, c := range containers {
		for _, name := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(name, "/"), conventions.ContainerNamePrefix) {
				if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
					t.Logf("Warning: Failed to remove container %s during cleanup: %v", name, err)
				} else {
					cleaned++
				}
				break
			}
		}
	}

	if cleaned > 0 {
		t.Logf("Cleaned up %d sandbox containers", cleaned)
	}
}
