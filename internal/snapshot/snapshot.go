package snapshot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// ManagerConfig is the configuration of the snapshot manager.
type ManagerConfig struct {
	// DataDir is where blobs, manifests and workspace heads are stored.
	DataDir string
	Logger  log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "snapshot.Manager"})

	return nil
}

// racyWindow is how old a file change must be, relative to the previous
// capture, for its fingerprint to be reused. File timestamps come from a
// coarse clock.
const racyWindow = time.Second

// Manager captures workspace trees before runs and restores them on rollback.
// Restore is a two phase protocol: capture before, then restore or discard after.
//
// Managers of different processes can share the same data dir, blob garbage
// collection is excluded from in flight captures and restores with a file lock.
type Manager struct {
	blobs        blobStore
	manifestsDir string
	headsDir     string
	lockPath     string
	logger       log.Logger
}

// NewManager returns a new snapshot manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		blobs:        blobStore{dir: filepath.Join(cfg.DataDir, "blobs")},
		manifestsDir: filepath.Join(cfg.DataDir, "manifests"),
		headsDir:     filepath.Join(cfg.DataDir, "heads"),
		lockPath:     filepath.Join(cfg.DataDir, "gc.lock"),
		logger:       cfg.Logger,
	}, nil
}

// lock takes the data dir lock, shared for captures and restores and
// exclusive for garbage collection. The returned func releases it.
func (m *Manager) lock(how int) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(m.lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}
	f, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open data dir lock: %w", err)
	}

	for {
		err = unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not lock data dir: %w", err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// resolveRoot returns the absolute workspace root with every symlink
// resolved, so aliases of a workspace share its state.
func resolveRoot(workspaceRoot string) (string, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(root)
}

func (m *Manager) manifestPath(id string) string {
	return filepath.Join(m.manifestsDir, id+".cbor")
}

func (m *Manager) headPath(root string) string {
	return filepath.Join(m.headsDir, workspaceKey(root)+".cbor")
}

// Snapshot captures the relative path, content fingerprint and permission bits of
// every path under the workspace root. Files unchanged since the previous
// snapshot of the same workspace reuse their fingerprint.
func (m *Manager) Snapshot(ctx context.Context, workspaceRoot string) (model.SnapshotHandle, error) {
	unlock, err := m.lock(unix.LOCK_SH)
	if err != nil {
		return model.SnapshotHandle{}, err
	}
	defer unlock()

	root, err := resolveRoot(workspaceRoot)
	if err != nil {
		return model.SnapshotHandle{}, fmt.Errorf("could not resolve workspace root: %w", err)
	}
	st, err := os.Stat(root)
	if err != nil {
		return model.SnapshotHandle{}, fmt.Errorf("could not stat workspace root: %w", err)
	}
	if !st.IsDir() {
		return model.SnapshotHandle{}, fmt.Errorf("workspace root %q is not a directory: %w", root, model.ErrNotValid)
	}

	previous := map[string]model.SnapshotEntry{}
	var h head
	if err := readCBOR(m.headPath(root), &h); err == nil {
		for _, e := range h.Entries {
			previous[e.Path] = e
		}
	}

	// Fingerprints are only reused from a trustworthy previous capture.
	reuseBefore := time.Time{}
	if !h.CapturedAt.IsZero() {
		reuseBefore = h.CapturedAt.Add(-racyWindow)
	}

	capturedAt := time.Now()
	handle := model.SnapshotHandle{
		ID:            ulid.MustNew(ulid.Timestamp(capturedAt), rand.Reader).String(),
		WorkspaceRoot: root,
		CreatedAt:     capturedAt.UTC(),
	}

	var entries []model.SnapshotEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := model.SnapshotEntry{
			Path:    rel,
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		}

		switch {
		case info.IsDir():
			entry.Type = model.SnapshotEntryTypeDir
		case info.Mode()&fs.ModeSymlink != 0:
			entry.Type = model.SnapshotEntryTypeSymlink
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry.LinkTarget = target
		case info.Mode().IsRegular():
			entry.Type = model.SnapshotEntryTypeFile
			entry.Size = info.Size()
			if st, ok := statFile(path); ok {
				entry.Inode = st.inode
				entry.ChangeTime = st.ctime
			}
			digest, err := m.captureFile(path, entry, previous[rel], reuseBefore)
			if err != nil {
				return fmt.Errorf("could not capture %q: %w", rel, err)
			}
			entry.Digest = digest
			handle.Bytes += entry.Size
			handle.Files++
		default:
			m.logger.Warningf("Skipping special file %q", rel)
			return nil
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return model.SnapshotHandle{}, err
	}

	mf := manifest{
		ID:            handle.ID,
		WorkspaceRoot: root,
		CreatedAt:     handle.CreatedAt,
		Entries:       entries,
	}
	if err := writeCBOR(m.manifestPath(handle.ID), mf); err != nil {
		return model.SnapshotHandle{}, fmt.Errorf("could not write manifest: %w", err)
	}
	if err := writeCBOR(m.headPath(root), head{SnapshotID: handle.ID, CapturedAt: capturedAt, Entries: entries}); err != nil {
		return model.SnapshotHandle{}, fmt.Errorf("could not write workspace head: %w", err)
	}

	m.logger.Debugf("Snapshot %s taken (%d files, %d bytes)", handle.ID, handle.Files, handle.Bytes)

	return handle, nil
}

// captureFile stores the file content and returns its digest. The previous
// digest is reused only when the file metadata, including the change time that
// a process can't forge, is unchanged and older than the previous capture.
func (m *Manager) captureFile(path string, entry, prev model.SnapshotEntry, reuseBefore time.Time) (string, error) {
	if prev.Type == model.SnapshotEntryTypeFile &&
		prev.Digest != "" &&
		prev.Size == entry.Size &&
		prev.Mode == entry.Mode &&
		prev.ModTime.Equal(entry.ModTime) &&
		prev.Inode == entry.Inode &&
		!entry.ChangeTime.IsZero() &&
		prev.ChangeTime.Equal(entry.ChangeTime) &&
		entry.ChangeTime.Before(reuseBefore) &&
		m.blobs.has(prev.Digest) {
		return prev.Digest, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest, _, err := m.blobs.put(f)
	return digest, err
}

func (m *Manager) loadManifest(id string) (manifest, error) {
	var mf manifest
	if err := readCBOR(m.manifestPath(id), &mf); err != nil {
		return manifest{}, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return mf, nil
}

// Restore reverts the workspace to the snapshot. Paths created after the
// snapshot are removed and modified or deleted paths get their captured
// content back. Paths that can't be restored are reported, the operation
// doesn't stop on them. Restore is idempotent so it can be retried.
func (m *Manager) Restore(ctx context.Context, handle model.SnapshotHandle) (model.RestoreReport, error) {
	unlock, err := m.lock(unix.LOCK_SH)
	if err != nil {
		return model.RestoreReport{}, err
	}
	defer unlock()

	mf, err := m.loadManifest(handle.ID)
	if err != nil {
		return model.RestoreReport{}, err
	}
	if mf.Archived {
		return model.RestoreReport{}, fmt.Errorf("snapshot %s is archived: %w", handle.ID, model.ErrNotValid)
	}

	var h head
	if err := readCBOR(m.headPath(mf.WorkspaceRoot), &h); err == nil && h.SnapshotID != mf.ID {
		return model.RestoreReport{}, fmt.Errorf("snapshot %s was superseded by %s: %w", mf.ID, h.SnapshotID, model.ErrNotValid)
	}

	r := restorer{
		root:   mf.WorkspaceRoot,
		blobs:  m.blobs,
		report: model.RestoreReport{SnapshotID: mf.ID},
	}
	if err := r.restore(ctx, mf.Entries); err != nil {
		return r.report, err
	}

	if r.report.Diverged() {
		m.logger.Warningf("Snapshot %s restored with %d failed paths", mf.ID, len(r.report.Failed))
	} else {
		m.logger.Debugf("Snapshot %s restored (%d restored, %d removed)", mf.ID, len(r.report.Restored), len(r.report.Removed))
	}

	return r.report, nil
}

// Discard releases the snapshot data. A discarded snapshot can't be restored.
func (m *Manager) Discard(ctx context.Context, handle model.SnapshotHandle) error {
	if err := os.Remove(m.manifestPath(handle.ID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %s: %w", handle.ID, model.ErrNotFound)
		}
		return fmt.Errorf("could not remove manifest: %w", err)
	}

	removed, err := m.GC(ctx)
	if err != nil {
		return fmt.Errorf("could not collect snapshot blobs: %w", err)
	}
	m.logger.Debugf("Snapshot %s discarded (%d blobs released)", handle.ID, removed)

	return nil
}

// Archive keeps the snapshot data for inspection but makes it unusable for restores.
func (m *Manager) Archive(ctx context.Context, handle model.SnapshotHandle) error {
	mf, err := m.loadManifest(handle.ID)
	if err != nil {
		return err
	}
	mf.Archived = true
	if err := writeCBOR(m.manifestPath(handle.ID), mf); err != nil {
		return fmt.Errorf("could not write manifest: %w", err)
	}
	return nil
}

// GC removes blobs not referenced by any manifest or workspace head.
func (m *Manager) GC(ctx context.Context) (int, error) {
	unlock, err := m.lock(unix.LOCK_EX)
	if err != nil {
		return 0, err
	}
	defer unlock()

	live := map[string]struct{}{}
	addLive := func(dir string, decode func(path string) ([]model.SnapshotEntry, error)) error {
		files, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".cbor") {
				continue
			}
			entries, err := decode(filepath.Join(dir, f.Name()))
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.Digest != "" {
					live[e.Digest] = struct{}{}
				}
			}
		}
		return nil
	}

	err = addLive(m.manifestsDir, func(path string) ([]model.SnapshotEntry, error) {
		var mf manifest
		err := readCBOR(path, &mf)
		return mf.Entries, err
	})
	if err != nil {
		return 0, err
	}
	err = addLive(m.headsDir, func(path string) ([]model.SnapshotEntry, error) {
		var h head
		err := readCBOR(path, &h)
		return h.Entries, err
	})
	if err != nil {
		return 0, err
	}

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	return m.blobs.gc(live)
}

// restorer applies a manifest over a workspace tree collecting the report.
type restorer struct {
	root   string
	blobs  blobStore
	report model.RestoreReport
}

func (r *restorer) fail(rel string, err error) {
	r.report.Failed = append(r.report.Failed, model.PathFailure{Path: rel, Reason: err.Error()})
}

func (r *restorer) restore(ctx context.Context, entries []model.SnapshotEntry) error {
	want := make(map[string]model.SnapshotEntry, len(entries))
	for _, e := range entries {
		want[e.Path] = e
	}

	// Remove paths that didn't exist or changed type, deepest first.
	current, walkFailures := r.scan()
	r.report.Failed = append(r.report.Failed, walkFailures...)
	sort.Sort(sort.Reverse(sort.StringSlice(current)))
	for _, rel := range current {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		abs := r.abs(rel)
		info, err := os.Lstat(abs)
		if err != nil {
			continue
		}
		e, ok := want[rel]
		if ok && entryType(info) == e.Type {
			continue
		}
		if err := os.RemoveAll(abs); err != nil {
			r.fail(rel, err)
			continue
		}
		r.report.Removed = append(r.report.Removed, rel)
	}

	// Recreate the tree parents first.
	sorted := append([]model.SnapshotEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for _, e := range sorted {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		changed, err := r.restoreEntry(e)
		if err != nil {
			r.fail(e.Path, err)
			continue
		}
		if changed {
			r.report.Restored = append(r.report.Restored, e.Path)
		}
	}

	// Directory permissions last so read only directories don't block their children.
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		if e.Type != model.SnapshotEntryTypeDir {
			continue
		}
		if err := os.Chmod(r.abs(e.Path), e.Mode.Perm()); err != nil {
			r.fail(e.Path, err)
		}
	}

	return nil
}

// scan lists the workspace relative paths that currently exist.
func (r *restorer) scan() ([]string, []model.PathFailure) {
	var paths []string
	var failures []model.PathFailure
	_ = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		rel, _ := filepath.Rel(r.root, path)
		rel = filepath.ToSlash(rel)
		if err != nil {
			if path != r.root {
				failures = append(failures, model.PathFailure{Path: rel, Reason: err.Error()})
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		// Directories need to be writable to restore their children.
		if d.IsDir() {
			if info, err := d.Info(); err == nil && info.Mode().Perm()&0o700 != 0o700 {
				_ = os.Chmod(path, info.Mode().Perm()|0o700)
			}
		}
		if path != r.root {
			paths = append(paths, rel)
		}
		return nil
	})
	return paths, failures
}

func (r *restorer) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

func (r *restorer) restoreEntry(e model.SnapshotEntry) (bool, error) {
	abs := r.abs(e.Path)
	info, err := os.Lstat(abs)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	switch e.Type {
	case model.SnapshotEntryTypeDir:
		if exists {
			return false, nil
		}
		// Writable while restoring children, final mode applied at the end.
		if err := os.MkdirAll(abs, 0o700); err != nil {
			return false, err
		}
		return true, nil

	case model.SnapshotEntryTypeSymlink:
		if exists {
			target, err := os.Readlink(abs)
			if err == nil && target == e.LinkTarget {
				return false, nil
			}
			if err := os.Remove(abs); err != nil {
				return false, err
			}
		}
		return true, os.Symlink(e.LinkTarget, abs)

	case model.SnapshotEntryTypeFile:
		if exists && info.Size() == e.Size {
			digest, err := digestFile(abs)
			if err == nil && digest == e.Digest {
				if info.Mode() == e.Mode {
					return false, nil
				}
				return true, os.Chmod(abs, e.Mode.Perm())
			}
		}
		return true, r.writeFile(abs, e)
	}

	return false, fmt.Errorf("unknown entry type %q", e.Type)
}

func (r *restorer) writeFile(abs string, e model.SnapshotEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := r.blobs.copyTo(e.Digest, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), e.Mode.Perm()); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return err
	}
	return os.Chtimes(abs, e.ModTime, e.ModTime)
}

func entryType(info fs.FileInfo) model.SnapshotEntryType {
	switch {
	case info.IsDir():
		return model.SnapshotEntryTypeDir
	case info.Mode()&fs.ModeSymlink != 0:
		return model.SnapshotEntryTypeSymlink
	case info.Mode().IsRegular():
		return model.SnapshotEntryTypeFile
	}
	return ""
}
