//go:build linux

package storage

import (
	"os"
	"syscall"
	"time"
)

// fileTimes returns the access time and, when known, the birth time of a file.
// Linux stat does not report birth time.
func fileTimes(info os.FileInfo) (time.Time, *time.Time) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), nil
	}
	return time.Unix(stat.Atim.Unix()), nil
}
