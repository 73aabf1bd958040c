package model

import (
	"io/fs"
	"time"
)

// SnapshotEntryType is the type of a captured workspace path.
type SnapshotEntryType string

const (
	SnapshotEntryTypeFile    SnapshotEntryType = "file"
	SnapshotEntryTypeDir     SnapshotEntryType = "dir"
	SnapshotEntryTypeSymlink SnapshotEntryType = "symlink"
)

// SnapshotEntry is the captured state of a single workspace path.
type SnapshotEntry struct {
	// Path is slash separated and relative to the workspace root.
	Path string
	Type SnapshotEntryType
	Mode fs.FileMode
	Size int64
	// ModTime, ChangeTime and Inode are used to reuse fingerprints of unchanged
	// files between snapshots. The change time can't be set by a process.
	ModTime    time.Time
	ChangeTime time.Time
	Inode      uint64
	// Digest is the content fingerprint of regular files.
	Digest     string
	LinkTarget string
}

// SnapshotHandle references a workspace snapshot taken before a run.
type SnapshotHandle struct {
	ID            string
	WorkspaceRoot string
	CreatedAt     time.Time
	Files         int
	Bytes         int64
}

// PathFailure is a path that couldn't be restored.
type PathFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RestoreReport is the outcome of restoring a workspace snapshot. A partial
// restore is reported through Failed, it is never hidden.
type RestoreReport struct {
	SnapshotID string
	Restored   []string
	Removed    []string
	Failed     []PathFailure
}

// Diverged returns true if one or more paths couldn't be restored.
func (r RestoreReport) Diverged() bool { return len(r.Failed) > 0 }

// FailedPaths returns the paths that couldn't be restored.
func (r RestoreReport) FailedPaths() []string {
	paths := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		paths = append(paths, f.Path)
	}
	return paths
}
