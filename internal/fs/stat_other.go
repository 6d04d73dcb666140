//go:build !linux

package fs

import (
	"io/fs"
	"time"
)

// extractStat falls back to the modification time where birth time is not
// portably available.
func extractStat(_ string, info fs.FileInfo, _ bool) (time.Time, uint32) {
	return info.ModTime(), uint32(info.Mode())
}
