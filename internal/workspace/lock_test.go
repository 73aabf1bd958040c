package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/workspace"
)

func newLocker(t *testing.T, locksDir string, policy workspace.BusyPolicy) *workspace.Locker {
	t.Helper()
	l, err := workspace.NewLocker(workspace.LockerConfig{LocksDir: locksDir, BusyPolicy: policy, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	return l
}

func TestLockerReject(t *testing.T) {
	tests := map[string]struct {
		sameLocker bool
	}{
		"A second acquire in the same process should be rejected.": {
			sameLocker: true,
		},
		"A second acquire from another locker sharing the locks dir should be rejected.": {
			sameLocker: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			locksDir := t.TempDir()
			ws := t.TempDir()
			l1 := newLocker(t, locksDir, workspace.BusyPolicyReject)
			l2 := l1
			if !test.sameLocker {
				l2 = newLocker(t, locksDir, workspace.BusyPolicyReject)
			}

			release, err := l1.Acquire(context.Background(), ws)
			require.NoError(err)

			_, err = l2.Acquire(context.Background(), ws)
			assert.ErrorIs(t, err, model.ErrWorkspaceBusy)

			release()
			release2, err := l2.Acquire(context.Background(), ws)
			require.NoError(err)
			release2()
		})
	}
}

func TestLockerIndependentWorkspaces(t *testing.T) {
	l := newLocker(t, t.TempDir(), workspace.BusyPolicyReject)

	r1, err := l.Acquire(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer r2()
}

func TestLockerSymlinkedWorkspaceSharesLock(t *testing.T) {
	require := require.New(t)

	locksDir := t.TempDir()
	ws := t.TempDir()
	alias := filepath.Join(t.TempDir(), "alias")
	require.NoError(os.Symlink(ws, alias))

	l1 := newLocker(t, locksDir, workspace.BusyPolicyReject)
	l2 := newLocker(t, locksDir, workspace.BusyPolicyReject)

	release, err := l1.Acquire(context.Background(), ws)
	require.NoError(err)
	defer release()

	_, err = l1.Acquire(context.Background(), alias)
	assert.ErrorIs(t, err, model.ErrWorkspaceBusy)
	_, err = l2.Acquire(context.Background(), alias)
	assert.ErrorIs(t, err, model.ErrWorkspaceBusy)
}

func TestLockerQueue(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	l := newLocker(t, t.TempDir(), workspace.BusyPolicyQueue)
	ws := t.TempDir()

	release, err := l.Acquire(context.Background(), ws)
	require.NoError(err)

	// Queued acquire should wait and honor the context.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, ws)
	assert.ErrorIs(err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), ws)
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should be queued")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("queued acquire should have been granted")
	}
}
