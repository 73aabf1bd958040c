package run

import (
	"bytes"
	"strings"
	"sync"
)

// boundedBuffer keeps the first bytes written up to its capacity and discards
// the rest, it never fails so the writer is always drained.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := b.max - b.buf.Len()
	switch {
	case free <= 0:
		b.truncated = b.truncated || len(p) > 0
	case len(p) > free:
		b.buf.Write(p[:free])
		b.truncated = true
	default:
		b.buf.Write(p)
	}

	return len(p), nil
}

// String returns the captured output as valid UTF-8.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.ToValidUTF8(b.buf.String(), "")
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
