package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// BusyPolicy is what happens when a workspace already has an active run.
type BusyPolicy string

const (
	// BusyPolicyQueue waits until the workspace is free or the context ends.
	BusyPolicyQueue BusyPolicy = "queue"
	// BusyPolicyReject fails with model.ErrWorkspaceBusy.
	BusyPolicyReject BusyPolicy = "reject"
)

// LockerConfig is the configuration of the workspace locker.
type LockerConfig struct {
	// LocksDir holds the lock files shared with other processes.
	LocksDir   string
	BusyPolicy BusyPolicy
	// PollInterval is how often a queued acquire retries a lock held by another process.
	PollInterval time.Duration
	Logger       log.Logger
}

func (c *LockerConfig) defaults() error {
	if c.LocksDir == "" {
		return fmt.Errorf("locks dir is required")
	}

	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyPolicyQueue
	}
	if c.BusyPolicy != BusyPolicyQueue && c.BusyPolicy != BusyPolicyReject {
		return fmt.Errorf("unknown busy policy %q", c.BusyPolicy)
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "workspace.Locker"})

	return nil
}

// Locker serializes runs per workspace, inside the process and across
// processes sharing the same locks dir.
type Locker struct {
	mu           sync.Mutex
	slots        map[string]chan struct{}
	locksDir     string
	busyPolicy   BusyPolicy
	pollInterval time.Duration
	logger       log.Logger
}

// NewLocker returns a new workspace locker.
func NewLocker(cfg LockerConfig) (*Locker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.LocksDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create locks dir: %w", err)
	}

	return &Locker{
		slots:        map[string]chan struct{}{},
		locksDir:     cfg.LocksDir,
		busyPolicy:   cfg.BusyPolicy,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}, nil
}

func (l *Locker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire takes the exclusive lock of a workspace, the returned func releases it.
func (l *Locker) Acquire(ctx context.Context, workspaceRoot string) (release func(), err error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("could not resolve workspace root: %w", err)
	}
	// Every alias of a workspace maps to the same lock.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve workspace root: %w", err)
	}
	sum := sha256.Sum256([]byte(root))
	key := hex.EncodeToString(sum[:8])

	// In process.
	s := l.slot(key)
	switch l.busyPolicy {
	case BusyPolicyReject:
		select {
		case s <- struct{}{}:
		default:
			return nil, fmt.Errorf("workspace %q: %w", root, model.ErrWorkspaceBusy)
		}
	default:
		select {
		case s <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Across processes.
	f, err := l.flock(ctx, filepath.Join(l.locksDir, key+".lock"), root)
	if err != nil {
		<-s
		return nil, err
	}

	l.logger.Debugf("Workspace %q locked", root)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			_ = f.Close()
			<-s
			l.logger.Debugf("Workspace %q unlocked", root)
		})
	}, nil
}

func (l *Locker) flock(ctx context.Context, path, root string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("could not lock workspace: %w", err)
		}

		if l.busyPolicy == BusyPolicyReject {
			f.Close()
			return nil, fmt.Errorf("workspace %q locked by another process: %w", root, model.ErrWorkspaceBusy)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}
