//go:build darwin

package storage

import (
	"os"
	"syscall"
	"time"
)

// fileTimes returns the access time and, when known, the birth time of a file.
func fileTimes(info os.FileInfo) (time.Time, *time.Time) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), nil
	}
	born := time.Unix(stat.Birthtimespec.Unix())
	return time.Unix(stat.Atimespec.Unix()), &born
}
