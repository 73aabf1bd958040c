package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	// Keep nanoseconds, modification times are compared to reuse fingerprints.
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// manifest is the persisted state of a snapshot.
type manifest struct {
	ID            string
	WorkspaceRoot string
	CreatedAt     time.Time
	Archived      bool
	Entries       []model.SnapshotEntry
}

// head is the latest captured state of a workspace, used to validate snapshots
// and to reuse fingerprints of unchanged files.
type head struct {
	SnapshotID string
	// CapturedAt is when the capture walk started.
	CapturedAt time.Time
	Entries    []model.SnapshotEntry
}

func workspaceKey(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:8])
}

func writeCBOR(path string, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readCBOR(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), model.ErrNotFound)
		}
		return err
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
