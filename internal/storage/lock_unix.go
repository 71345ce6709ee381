//go:build !windows

package storage

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireStoreLock takes an exclusive, non-blocking flock next to the
// database so a second daemon cannot open the same store.
func acquireStoreLock(path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return lockFile, nil
}

// releaseStoreLock unlocks and closes the lock file. The file itself stays
// on disk; removing it would let a racing opener lock an orphaned inode.
func releaseStoreLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	_ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	return lockFile.Close()
}
