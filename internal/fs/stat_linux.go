//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// extractStat returns the creation time and raw st_mode of path.
// Creation time is the statx birth time when the filesystem records one,
// otherwise the inode change time.
func extractStat(path string, info fs.FileInfo, follow bool) (time.Time, uint32) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), uint32(info.Mode().Perm())
	}

	created := time.Unix(stat.Ctim.Unix())
	if btime, ok := birthTime(path, follow); ok {
		created = btime
	}
	return created, stat.Mode
}

func birthTime(path string, follow bool) (time.Time, bool) {
	flags := unix.AT_STATX_SYNC_AS_STAT
	if !follow {
		flags |= unix.AT_SYMLINK_NOFOLLOW
	}

	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, flags, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}, false
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, false
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), true
}
