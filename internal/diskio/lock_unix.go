//go:build darwin || linux

package diskio

import (
	"fmt"
	"os"
	"syscall"
)

// ErrLocked is returned by LockFileNonBlocking when another process (or
// another open file descriptor) already holds the lock.
var ErrLocked = fmt.Errorf("diskio: file already locked")

// LockFileNonBlocking takes an exclusive flock on f without blocking; a
// folder uses this to guard against two processes opening the same
// database directory at once.
func LockFileNonBlocking(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		err = ErrLocked
	}
	return err
}
