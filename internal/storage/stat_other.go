//go:build !linux && !darwin

package storage

import (
	"os"
	"time"
)

// fileTimes falls back to the modification time where access time is not portable.
func fileTimes(info os.FileInfo) (time.Time, *time.Time) {
	return info.ModTime(), nil
}
