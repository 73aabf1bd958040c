package snapshot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// blobStore is a content addressed store of zstd compressed file contents.
type blobStore struct {
	dir string
}

func (b blobStore) path(digest string) string {
	return filepath.Join(b.dir, digest[:2], digest+".zst")
}

func (b blobStore) has(digest string) bool {
	_, err := os.Stat(b.path(digest))
	return err == nil
}

// put stores the content of the reader and returns its digest and size.
func (b blobStore) put(r io.Reader) (digest string, size int64, err error) {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return "", 0, fmt.Errorf("could not create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("could not create temp blob: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	zw, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return "", 0, fmt.Errorf("could not create zstd writer: %w", err)
	}

	h := blake3.New()
	size, err = io.Copy(io.MultiWriter(h, zw), r)
	if err != nil {
		zw.Close()
		return "", 0, fmt.Errorf("could not copy blob content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", 0, fmt.Errorf("could not flush blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("could not close blob: %w", err)
	}

	digest = hex.EncodeToString(h.Sum(nil))
	if b.has(digest) {
		return digest, size, nil
	}

	dst := b.path(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", 0, fmt.Errorf("could not create blob dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, fmt.Errorf("could not store blob: %w", err)
	}

	return digest, size, nil
}

// copyTo decompresses a blob into the writer.
func (b blobStore) copyTo(digest string, w io.Writer) error {
	f, err := os.Open(b.path(digest))
	if err != nil {
		return fmt.Errorf("could not open blob %s: %w", digest, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zr.Close()

	if _, err := io.Copy(w, zr); err != nil {
		return fmt.Errorf("could not decompress blob %s: %w", digest, err)
	}
	return nil
}

// gc removes every blob not present in the live set.
func (b blobStore) gc(live map[string]struct{}) (int, error) {
	removed := 0
	err := filepath.WalkDir(b.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if filepath.Ext(name) != ".zst" {
			return nil
		}
		digest := name[:len(name)-len(".zst")]
		if _, ok := live[digest]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// digestFile returns the content fingerprint of a file.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
