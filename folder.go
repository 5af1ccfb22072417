package acorn

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	natomic "github.com/natefinch/atomic"

	"github.com/mattnlane/acorn/internal/diskio"
	"github.com/mattnlane/acorn/internal/segment"
	"github.com/mattnlane/acorn/internal/wal"
)

const (
	segmentsDirName = "segments"
	walDirName      = "wal"
	segmentFileExt  = ".acnseg"
	walFileExt      = ".acnwal"

	privateDirMode  = 0700
	privateFileMode = 0600
)

// DiskFolder is the real-filesystem Folder: segment files live under
// <root>/segments, WAL generation files under <root>/wal, one file per
// segment number / generation number.
type DiskFolder struct {
	root string
}

// NewDiskFolder prepares dir (and its segments/wal subdirectories) as an
// Acorn database root.
func NewDiskFolder(dir string) (*DiskFolder, error) {
	if err := os.MkdirAll(filepath.Join(dir, segmentsDirName), privateDirMode); err != nil {
		return nil, newError("open folder", KindFile, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, walDirName), privateDirMode); err != nil {
		return nil, newError("open folder", KindFile, err)
	}
	return &DiskFolder{root: dir}, nil
}

func (d *DiskFolder) segmentPath(segmentNum uint32) string {
	return filepath.Join(d.root, segmentsDirName, fmt.Sprintf("%010d%s", segmentNum, segmentFileExt))
}

func (d *DiskFolder) walPath(genNum uint64) string {
	return filepath.Join(d.root, walDirName, fmt.Sprintf("%020d%s", genNum, walFileExt))
}

// OpenSegmentFile implements pstore.SegmentStore. *os.File already
// satisfies segment.RandomAccessFile directly.
func (d *DiskFolder) OpenSegmentFile(segmentNum uint32, create bool) (segment.RandomAccessFile, error) {
	path := d.segmentPath(segmentNum)
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, privateFileMode)
	if err != nil {
		return nil, newError("open segment", KindFile, err)
	}
	if err := diskio.LockFileNonBlocking(f); err != nil {
		f.Close()
		return nil, newError("open segment", KindFile, err)
	}
	return f, nil
}

// diskWalFile adapts *os.File to wal.BackingFile.
type diskWalFile struct {
	f *os.File
}

func (w *diskWalFile) ReadAt(p []byte, off int64) (int, error)  { return w.f.ReadAt(p, off) }
func (w *diskWalFile) WriteAt(p []byte, off int64) (int, error) { return w.f.WriteAt(p, off) }
func (w *diskWalFile) Truncate(size int64) error                { return w.f.Truncate(size) }
func (w *diskWalFile) Sync() error                              { return diskio.Fsync(w.f) }
func (w *diskWalFile) Close() error                              { return w.f.Close() }

func (w *diskWalFile) Size() (int64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// walGenerationSizeHint is preallocated on creation of a new generation
// file so appends don't pay for on-demand file growth mid-write.
const walGenerationSizeHint = 4 << 20 // 4 MiB

// OpenWalFile implements wal.GenerationStore.
func (d *DiskFolder) OpenWalFile(genNum uint64, create bool) (wal.BackingFile, error) {
	path := d.walPath(genNum)
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, privateFileMode)
	if err != nil {
		return nil, newError("open wal generation", KindFile, err)
	}
	if err := diskio.LockFileNonBlocking(f); err != nil {
		f.Close()
		return nil, newError("open wal generation", KindFile, err)
	}
	if create {
		if err := diskio.Preallocate(f, walGenerationSizeHint); err != nil {
			f.Close()
			return nil, newError("open wal generation", KindFile, err)
		}
	}
	return &diskWalFile{f: f}, nil
}

// IterWalFiles implements wal.GenerationStore, listing every generation
// number present under the wal directory.
func (d *DiskFolder) IterWalFiles() ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, walDirName))
	if err != nil {
		return nil, newError("list wal generations", KindFile, err)
	}
	nums := make([]uint64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, walFileExt) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, walFileExt), 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// DeleteWalFile implements wal.GenerationStore.
func (d *DiskFolder) DeleteWalFile(genNum uint64) error {
	if err := os.Remove(d.walPath(genNum)); err != nil && !os.IsNotExist(err) {
		return newError("delete wal generation", KindFile, err)
	}
	return nil
}

// ClearWalFiles implements wal.GenerationStore, removing every generation
// file under the wal directory.
func (d *DiskFolder) ClearWalFiles() error {
	nums, err := d.IterWalFiles()
	if err != nil {
		return err
	}
	for _, n := range nums {
		if err := d.DeleteWalFile(n); err != nil {
			return err
		}
	}
	return nil
}

// checkpointPointerName is a small side-file recording the most recent
// generation the database believes is current, written atomically so a
// crash mid-write never leaves it torn. It is advisory only: IterWalFiles
// is the source of truth, but a long-lived operator tool can use this
// pointer to jump straight to the current generation without listing the
// whole wal directory.
const checkpointPointerName = "CURRENT"

// WriteCheckpointPointer atomically records genNum as the current
// generation, using the same replace-then-rename discipline
// github.com/natefinch/atomic provides so a crash mid-write can never
// leave a torn pointer file behind.
func (d *DiskFolder) WriteCheckpointPointer(genNum uint64) error {
	r := strings.NewReader(strconv.FormatUint(genNum, 10))
	if err := natomic.WriteFile(filepath.Join(d.root, checkpointPointerName), r); err != nil {
		return newError("write checkpoint pointer", KindFile, err)
	}
	return nil
}

// ReadCheckpointPointer returns the generation number last recorded by
// WriteCheckpointPointer, or ok=false if no pointer has been written yet.
func (d *DiskFolder) ReadCheckpointPointer() (genNum uint64, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(d.root, checkpointPointerName))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, newError("read checkpoint pointer", KindFile, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, newError("read checkpoint pointer", KindCorrupted, err)
	}
	return n, true, nil
}
