package conventions

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	// DefaultDataDir is the default aisbx data directory name (relative to home).
	DefaultDataDir = ".aisbx"
	// AuditFile is the append-only audit log filename.
	AuditFile = "audit.jsonl"
	// SnapshotsDir is the subdirectory for workspace snapshots.
	SnapshotsDir = "snapshots"
	// LocksDir is the subdirectory for workspace lock files.
	LocksDir = "locks"
	// DBFile is the run history database filename.
	DBFile = "aisbx.db"
	// MetricsFile is the metrics textfile filename.
	MetricsFile = "aisbx.prom"

	// Container conventions.

	// DefaultImage is the default sandbox image.
	DefaultImage = "ai-sandbox:py312"
	// ContainerWorkspaceDir is where the workspace is mounted inside the container.
	ContainerWorkspaceDir = "/app"
	// ContainerNamePrefix is the prefix of every sandbox container name.
	ContainerNamePrefix = "aisbx-"
	// ContainerUser is the unprivileged user the sandboxed process runs as.
	ContainerUser = "1000:1000"
	// CorrelationIDLabel is the container label with the run correlation ID.
	CorrelationIDLabel = "dev.aisbx.correlation-id"
)

// AuditPath returns the path of the audit log.
func AuditPath(dataDir string) string { return filepath.Join(dataDir, AuditFile) }

// SnapshotsPath returns the snapshots directory.
func SnapshotsPath(dataDir string) string { return filepath.Join(dataDir, SnapshotsDir) }

// LocksPath returns the workspace locks directory.
func LocksPath(dataDir string) string { return filepath.Join(dataDir, LocksDir) }

// DBPath returns the path of the run history database.
func DBPath(dataDir string) string { return filepath.Join(dataDir, DBFile) }

// MetricsPath returns the path of the metrics textfile.
func MetricsPath(dataDir string) string { return filepath.Join(dataDir, MetricsFile) }

// MountDest returns the container path where the workspace is mounted:
//   - "", "." and "./" mount at /app.
//   - "foo/bar" mounts at /app/foo/bar.
func MountDest(workingSubdir string) string {
	sub := strings.Trim(strings.TrimSpace(workingSubdir), "/")
	if sub == "" || sub == "." {
		return ContainerWorkspaceDir
	}
	return path.Join(ContainerWorkspaceDir, sub)
}

// ContainerName returns the container name of a run attempt.
func ContainerName(correlationID string, attempt int) string {
	return fmt.Sprintf("%s%s-%d", ContainerNamePrefix, strings.ToLower(correlationID), attempt)
}

// ContainerTmpfs returns the memory backed scratch mounts of the container.
func ContainerTmpfs() map[string]string {
	return map[string]string{
		"/tmp": "rw,noexec,nosuid,size=64m",
		"/run": "rw,noexec,nosuid,size=16m",
	}
}
