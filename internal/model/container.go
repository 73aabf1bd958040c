package model

import "fmt"

// BindMount is a host directory mounted writable into the container.
type BindMount struct {
	Source string
	Target string
}

// ContainerSpec is everything the container engine needs to create an isolated container.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        map[string]string
	User       string
	WorkingDir string
	// Workspace is the only writable persistent mount.
	Workspace BindMount
	// Tmpfs are memory backed scratch mounts, path to mount options.
	Tmpfs        map[string]string
	ReadOnlyRoot bool
	Network      bool
	Limits       ResourceLimitProfile
	Labels       map[string]string
}

// Validate validates the container spec.
func (c ContainerSpec) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("container name is required: %w", ErrNotValid)
	}
	if c.Image == "" {
		return fmt.Errorf("container image is required: %w", ErrNotValid)
	}
	if len(c.Cmd) == 0 {
		return fmt.Errorf("container command is required: %w", ErrNotValid)
	}
	if c.Workspace.Source == "" || c.Workspace.Target == "" {
		return fmt.Errorf("workspace mount source and target are required: %w", ErrNotValid)
	}
	return nil
}
