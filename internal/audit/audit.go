package audit

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// Sink receives a copy of every durable audit event (e.g. a queryable index).
// The JSON lines file is the source of truth, sink failures are only logged.
type Sink interface {
	AppendAuditEvent(ctx context.Context, e model.AuditEvent) error
}

//go:generate mockery --case underscore --output auditmock --outpkg auditmock --name Sink --structname MockSink

// LoggerConfig is the configuration of the audit logger.
type LoggerConfig struct {
	// Path is the append only JSON lines audit file.
	Path string
	// Key is the HMAC key used to chain the event hashes.
	Key    []byte
	Sinks  []Sink
	Logger log.Logger
	// Clock is used to timestamp events.
	Clock func() time.Time
}

func (c *LoggerConfig) defaults() error {
	if c.Path == "" {
		return fmt.Errorf("audit file path is required")
	}

	if c.Clock == nil {
		c.Clock = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "audit.Logger"})

	return nil
}

// Logger appends strictly ordered, hash chained audit events to a JSON lines
// file. Every record is synced before Record returns.
//
// Loggers of different processes can share the same file: appends are
// serialized with an exclusive file lock and each logger folds the records
// appended by the others into its state before writing.
type Logger struct {
	mu sync.Mutex
	f  *os.File
	// offset is the size of the file already folded into the state.
	offset   int64
	seq      uint64
	lastHash string
	runSeqs  map[string]uint64
	key      []byte
	sinks    []Sink
	clock    func() time.Time
	logger   log.Logger
}

// NewLogger opens (or creates) the audit file recovering the sequence and hash chain state.
func NewLogger(cfg LoggerConfig) (*Logger, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("could not create audit dir: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open audit file: %w", err)
	}

	l := &Logger{
		f:       f,
		runSeqs: map[string]uint64{},
		key:     cfg.Key,
		sinks:   cfg.Sinks,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}

	err = l.locked(l.catchUp)
	if err != nil {
		f.Close()
		return nil, err
	}

	if l.seq > 0 {
		l.logger.Debugf("Audit log recovered at seq %d", l.seq)
	}

	return l, nil
}

// locked runs fn holding the exclusive lock of the audit file.
func (l *Logger) locked(fn func() error) error {
	fd := int(l.f.Fd())
	for {
		err := unix.Flock(fd, unix.LOCK_EX)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("could not lock audit file: %w", err)
		}
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	return fn()
}

// catchUp folds the records appended since the last known offset into the
// state. A trailing partial record (never acknowledged) is truncated, the
// caller must hold the file lock.
func (l *Logger) catchUp() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("could not stat audit file: %w", err)
	}
	size := info.Size()
	if size < l.offset {
		return fmt.Errorf("audit file shrank from %d to %d bytes: %w", l.offset, size, model.ErrNotValid)
	}
	if size == l.offset {
		return nil
	}

	r := bufio.NewReaderSize(io.NewSectionReader(l.f, l.offset, size-l.offset), readBufferSize)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				l.logger.Warningf("Truncating %d bytes of partial audit record", len(line))
				if err := l.f.Truncate(l.offset); err != nil {
					return fmt.Errorf("could not truncate partial audit record: %w", err)
				}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read audit file: %w", err)
		}

		var e model.AuditEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("corrupted audit record after seq %d: %w", l.seq, err)
		}
		l.seq = e.Seq
		l.lastHash = e.Hash
		l.runSeqs[e.CorrelationID] = e.RunSeq
		l.offset += int64(len(line))
	}
}

// Record appends an event durably and returns it with its sequence numbers and
// hashes set. Any failure is an audit write failure and nothing is advanced.
func (l *Logger) Record(ctx context.Context, e model.AuditEvent) (model.AuditEvent, error) {
	if e.CorrelationID == "" {
		return model.AuditEvent{}, fmt.Errorf("correlation id is required: %w", model.ErrNotValid)
	}

	e, err := l.append(e)
	if err != nil {
		return model.AuditEvent{}, fmt.Errorf("%w: %w", model.ErrAuditWriteFailure, err)
	}

	for _, s := range l.sinks {
		if err := s.AppendAuditEvent(ctx, e); err != nil {
			l.logger.Warningf("Audit sink failed for seq %d: %s", e.Seq, err)
		}
	}

	return e, nil
}

func (l *Logger) append(e model.AuditEvent) (model.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return e, fmt.Errorf("audit logger closed")
	}

	err := l.locked(func() error {
		if err := l.catchUp(); err != nil {
			return err
		}

		e.Seq = l.seq + 1
		e.RunSeq = l.runSeqs[e.CorrelationID] + 1
		if e.Timestamp.IsZero() {
			e.Timestamp = l.clock()
		}
		e.Timestamp = e.Timestamp.UTC()
		e.PrevHash = l.lastHash
		e.Hash = ""

		hash, err := computeHash(l.key, e)
		if err != nil {
			return fmt.Errorf("could not hash audit event: %w", err)
		}
		e.Hash = hash

		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("could not encode audit event: %w", err)
		}
		line = append(line, '\n')

		_, err = l.f.Write(line)
		if err == nil {
			err = l.f.Sync()
		}
		if err != nil {
			// Never leave an unacknowledged record behind.
			if terr := l.f.Truncate(l.offset); terr != nil {
				l.logger.Errorf("Could not truncate failed audit record: %s", terr)
			}
			return fmt.Errorf("could not write audit event: %w", err)
		}

		l.offset += int64(len(line))
		l.seq = e.Seq
		l.lastHash = e.Hash
		l.runSeqs[e.CorrelationID] = e.RunSeq
		return nil
	})

	return e, err
}

// Close closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func computeHash(key []byte, e model.AuditEvent) (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}

	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
