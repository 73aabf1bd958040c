package aisbx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	Image  string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "aisbx"
	}

	// go test changes the CWD to the test package directory, relative paths
	// would be resolved from there.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("AISBX_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("aisbx binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "AISBX_INTEGRATION"
		envBinary     = "AISBX_INTEGRATION_BINARY"
		envImage      = "AISBX_INTEGRATION_IMAGE"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
		Image:  os.Getenv(envImage),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// Env is an isolated data dir and workspace for a test.
type Env struct {
	DataDir   string
	Workspace string
}

// NewEnv returns a new isolated test environment with the workspace files written.
func NewEnv(t *testing.T, files map[string]string) Env {
	t.Helper()

	e := Env{DataDir: t.TempDir(), Workspace: t.TempDir()}
	// The sandbox process runs as an unprivileged user.
	if err := os.Chmod(e.Workspace, 0o777); err != nil {
		t.Fatalf("could not chmod workspace: %s", err)
	}
	for rel, content := range files {
		p := filepath.Join(e.Workspace, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("could not create dir: %s", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o666); err != nil {
			t.Fatalf("could not write file: %s", err)
		}
	}

	return e
}

// Run executes aisbx with the environment global flags followed by the args.
func (e Env) Run(ctx context.Context, config Config, args ...string) (stdout, stderr []byte, err error) {
	global := []string{"--data-dir", e.DataDir, "--workspace", e.Workspace, "--audit-key", "integration"}
	if config.Image != "" {
		global = append(global, "--image", config.Image)
	}

	return testutils.RunAISBXArgs(ctx, nil, config.Binary, append(global, args...), true)
}
