//go:build darwin || linux

package diskio

import (
	"os"
	"testing"
)

func TestLockFileNonBlocking(t *testing.T) {
	f, err := os.CreateTemp("", "acorn-lock")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	defer os.Remove(f.Name())

	locker, err := os.OpenFile(f.Name(), os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if err := LockFileNonBlocking(locker); err != nil {
		t.Fatal(err)
	}

	contender, err := os.OpenFile(f.Name(), os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if err := LockFileNonBlocking(contender); err != ErrLocked {
		t.Fatalf("want ErrLocked, got %v", err)
	}

	if err := locker.Close(); err != nil {
		t.Fatal(err)
	}
	if err := LockFileNonBlocking(contender); err != nil {
		t.Fatal(err)
	}
	if err := contender.Close(); err != nil {
		t.Fatal(err)
	}
}
