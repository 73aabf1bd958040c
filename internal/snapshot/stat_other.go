//go:build !linux

package snapshot

import "time"

type fileStat struct {
	inode uint64
	ctime time.Time
}

// statFile is unsupported, every file is fingerprinted on each capture.
func statFile(string) (fileStat, bool) { return fileStat{}, false }
