//go:build linux

package diskio

import "os"

// Fsync is a wrapper around os.File's Sync().
func Fsync(f *os.File) error {
	return f.Sync()
}
