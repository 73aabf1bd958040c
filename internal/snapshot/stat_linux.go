package snapshot

import (
	"time"

	"golang.org/x/sys/unix"
)

type fileStat struct {
	inode uint64
	ctime time.Time
}

func statFile(path string) (fileStat, bool) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fileStat{}, false
	}
	return fileStat{inode: st.Ino, ctime: time.Unix(st.Ctim.Unix())}, true
}
