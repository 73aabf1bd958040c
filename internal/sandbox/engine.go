package sandbox

import (
	"context"
	"io"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// Engine is the container engine boundary used to run sandboxed commands.
type Engine interface {
	// Check performs preflight checks and returns the results.
	// Checks verify that the engine is reachable and the sandbox image is usable.
	Check(ctx context.Context) []model.CheckResult

	// Create creates (but doesn't start) an isolated container for the spec.
	Create(ctx context.Context, spec model.ContainerSpec) (Container, error)
}

// Container is a handle of a created container.
type Container interface {
	ID() string
	// Stdout and Stderr streams end when the container process ends. They must
	// be drained concurrently with the process execution.
	Stdout() io.Reader
	Stderr() io.Reader
	// Start starts the container process. Limit errors reported by the engine
	// are returned here or by Engine.Create.
	Start(ctx context.Context) error
	// Wait blocks until the process exits returning its exit code.
	Wait(ctx context.Context) (int, error)
	// Kill forcibly terminates the container process.
	Kill(ctx context.Context) error
	// Remove removes the container and releases its resources.
	Remove(ctx context.Context) error
}

//go:generate mockery --case underscore --output sandboxmock --outpkg sandboxmock --name Engine --structname MockEngine
//go:generate mockery --case underscore --output sandboxmock --outpkg sandboxmock --name Container --structname MockContainer
