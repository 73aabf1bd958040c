package snapshot_test

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/snapshot"
)

type node struct {
	Content string
	Mode    fs.FileMode
	Link    string
}

func readTree(t *testing.T, root string) map[string]node {
	t.Helper()

	tree := map[string]node{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		info, err := os.Lstat(path)
		require.NoError(t, err)

		n := node{Mode: info.Mode()}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			n.Link, _ = os.Readlink(path)
		case info.Mode().IsRegular():
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			n.Content = string(data)
		}
		tree[filepath.ToSlash(rel)] = n
		return nil
	})
	require.NoError(t, err)
	return tree
}

func writeFile(t *testing.T, root, rel, content string, mode fs.FileMode) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	require.NoError(t, os.Chmod(p, mode))
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.py", "print('hello')\n", 0o644)
	writeFile(t, root, "src/lib.py", "def f(): pass\n", 0o644)
	writeFile(t, root, "src/run.sh", "#!/bin/sh\necho run\n", 0o755)
	require.NoError(t, os.Symlink("src/lib.py", filepath.Join(root, "lib.py")))
	return root
}

func newManager(t *testing.T) (*snapshot.Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	m, err := snapshot.NewManager(snapshot.ManagerConfig{DataDir: dataDir})
	require.NoError(t, err)
	return m, dataDir
}

func countBlobs(t *testing.T, dataDir string) int {
	t.Helper()
	n := 0
	_ = filepath.WalkDir(filepath.Join(dataDir, "blobs"), func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(path) == ".zst" {
			n++
		}
		return nil
	})
	return n
}

func TestManagerRestore(t *testing.T) {
	tests := map[string]struct {
		mutate      func(t *testing.T, root string)
		expRestored []string
		expRemoved  []string
	}{
		"Without changes nothing should be restored.": {
			mutate: func(t *testing.T, root string) {},
		},

		"Modified files should get their content back.": {
			mutate: func(t *testing.T, root string) {
				writeFile(t, root, "main.py", "import os; os.system('boom')\n", 0o644)
			},
			expRestored: []string{"main.py"},
		},

		"Deleted paths should be recreated.": {
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.RemoveAll(filepath.Join(root, "src")))
			},
			expRestored: []string{"src", "src/lib.py", "src/run.sh"},
		},

		"Created paths should be removed.": {
			mutate: func(t *testing.T, root string) {
				writeFile(t, root, "new/deep/file.txt", "x", 0o600)
				writeFile(t, root, "out.txt", "x", 0o600)
			},
			expRemoved: []string{"out.txt", "new/deep/file.txt", "new/deep", "new"},
		},

		"Permission changes should be reverted.": {
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.Chmod(filepath.Join(root, "src/run.sh"), 0o600))
			},
			expRestored: []string{"src/run.sh"},
		},

		"A file replaced by a directory should be restored.": {
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.Remove(filepath.Join(root, "main.py")))
				writeFile(t, root, "main.py/evil", "x", 0o644)
			},
			expRestored: []string{"main.py"},
			expRemoved:  []string{"main.py/evil", "main.py"},
		},

		"A retargeted symlink should be restored.": {
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.Remove(filepath.Join(root, "lib.py")))
				require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(root, "lib.py")))
			},
			expRestored: []string{"lib.py"},
		},

		"A read only directory should not block the restore.": {
			mutate: func(t *testing.T, root string) {
				writeFile(t, root, "src/extra.py", "x", 0o644)
				require.NoError(t, os.Chmod(filepath.Join(root, "src"), 0o555))
			},
			expRemoved: []string{"src/extra.py"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m, _ := newManager(t)
			root := newWorkspace(t)
			before := readTree(t, root)

			h, err := m.Snapshot(context.Background(), root)
			require.NoError(err)
			assert.Equal(3, h.Files)

			test.mutate(t, root)

			report, err := m.Restore(context.Background(), h)
			require.NoError(err)
			assert.False(report.Diverged())
			assert.ElementsMatch(test.expRestored, report.Restored)
			assert.ElementsMatch(test.expRemoved, report.Removed)
			assert.Equal(before, readTree(t, root))

			// Restoring again is a no-op.
			report, err = m.Restore(context.Background(), h)
			require.NoError(err)
			assert.Empty(report.Restored)
			assert.Empty(report.Removed)
		})
	}
}

func TestManagerRestorePartialFailureIsReported(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m, dataDir := newManager(t)
	root := newWorkspace(t)

	h, err := m.Snapshot(context.Background(), root)
	require.NoError(err)

	// Lose the stored content of every file.
	require.NoError(os.RemoveAll(filepath.Join(dataDir, "blobs")))
	writeFile(t, root, "main.py", "changed", 0o644)
	writeFile(t, root, "created.txt", "x", 0o644)

	report, err := m.Restore(context.Background(), h)
	require.NoError(err)
	assert.True(report.Diverged())
	assert.Equal([]string{"main.py"}, report.FailedPaths())
	assert.Equal([]string{"created.txt"}, report.Removed)
}

func TestManagerDiscard(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m, dataDir := newManager(t)
	root := newWorkspace(t)

	h1, err := m.Snapshot(context.Background(), root)
	require.NoError(err)
	assert.Equal(3, countBlobs(t, dataDir))

	writeFile(t, root, "main.py", "print('v2')\n", 0o644)
	require.NoError(m.Discard(context.Background(), h1))

	// A discarded snapshot can't be restored.
	_, err = m.Restore(context.Background(), h1)
	assert.ErrorIs(err, model.ErrNotFound)
	assert.ErrorIs(m.Discard(context.Background(), h1), model.ErrNotFound)

	h2, err := m.Snapshot(context.Background(), root)
	require.NoError(err)
	require.NoError(m.Discard(context.Background(), h2))

	// Only the blobs of the current workspace state are kept.
	assert.Equal(3, countBlobs(t, dataDir))
}

func TestManagerSnapshotReusesUnchangedFiles(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m, dataDir := newManager(t)
	root := newWorkspace(t)

	_, err := m.Snapshot(context.Background(), root)
	require.NoError(err)
	blobs := countBlobs(t, dataDir)

	h, err := m.Snapshot(context.Background(), root)
	require.NoError(err)
	assert.Equal(blobs, countBlobs(t, dataDir))
	assert.Equal(int64(len("print('hello')\n")+len("def f(): pass\n")+len("#!/bin/sh\necho run\n")), h.Bytes)
}

func TestManagerSupersededSnapshotCantBeRestored(t *testing.T) {
	m, _ := newManager(t)
	root := newWorkspace(t)

	h1, err := m.Snapshot(context.Background(), root)
	require.NoError(t, err)
	_, err = m.Snapshot(context.Background(), root)
	require.NoError(t, err)

	_, err = m.Restore(context.Background(), h1)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestManagerArchivedSnapshotCantBeRestored(t *testing.T) {
	m, _ := newManager(t)
	root := newWorkspace(t)

	h, err := m.Snapshot(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, m.Archive(context.Background(), h))

	_, err = m.Restore(context.Background(), h)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestManagerSnapshotMissingWorkspace(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Snapshot(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestManagerSnapshotDetectsChangesBehindRestoredModTime(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	m, _ := newManager(t)
	root := newWorkspace(t)
	path := filepath.Join(root, "main.py")
	stamp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	writeFile(t, root, "main.py", "AAAA", 0o644)
	require.NoError(os.Chtimes(path, stamp, stamp))
	_, err := m.Snapshot(ctx, root)
	require.NoError(err)

	// Same size, mode and modification time, different content.
	writeFile(t, root, "main.py", "BBBB", 0o644)
	require.NoError(os.Chtimes(path, stamp, stamp))
	h, err := m.Snapshot(ctx, root)
	require.NoError(err)

	writeFile(t, root, "main.py", "CCCC", 0o644)
	report, err := m.Restore(ctx, h)
	require.NoError(err)
	assert.False(report.Diverged())

	data, err := os.ReadFile(path)
	require.NoError(err)
	assert.Equal("BBBB", string(data))
}

func TestManagerSnapshotResolvesSymlinkedRoot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ctx := context.Background()
	m, _ := newManager(t)
	root := newWorkspace(t)
	alias := filepath.Join(t.TempDir(), "alias")
	require.NoError(os.Symlink(root, alias))
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(err)

	h1, err := m.Snapshot(ctx, alias)
	require.NoError(err)
	assert.Equal(resolved, h1.WorkspaceRoot)

	// Both names share the same workspace head.
	_, err = m.Snapshot(ctx, root)
	require.NoError(err)
	_, err = m.Restore(ctx, h1)
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestManagersSharingDataDir(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	dataDir := t.TempDir()
	newShared := func() *snapshot.Manager {
		m, err := snapshot.NewManager(snapshot.ManagerConfig{DataDir: dataDir})
		require.NoError(err)
		return m
	}
	ma, mb := newShared(), newShared()
	wsA, wsB := t.TempDir(), t.TempDir()

	const rounds = 20
	var g errgroup.Group

	// New content on every round so every capture stores new blobs.
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			for j := 0; j < 20; j++ {
				p := filepath.Join(wsA, fmt.Sprintf("file-%02d.txt", j))
				if err := os.WriteFile(p, []byte(fmt.Sprintf("a-%d-%d", i, j)), 0o644); err != nil {
					return err
				}
			}
			h, err := ma.Snapshot(ctx, wsA)
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(wsA, "file-00.txt"), []byte("mutated"), 0o644); err != nil {
				return err
			}
			report, err := ma.Restore(ctx, h)
			if err != nil {
				return err
			}
			if report.Diverged() {
				return fmt.Errorf("round %d diverged on %v", i, report.FailedPaths())
			}
			if err := ma.Discard(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := os.WriteFile(filepath.Join(wsB, "b.txt"), []byte(fmt.Sprintf("b-%d", i)), 0o644); err != nil {
				return err
			}
			h, err := mb.Snapshot(ctx, wsB)
			if err != nil {
				return err
			}
			if err := mb.Discard(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(g.Wait())
}
