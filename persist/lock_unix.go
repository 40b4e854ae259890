//go:build unix

package persist

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/essamgouda97/pdf-secure/internal/misc"
	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when another process holds the vault lock.
var ErrLockTimeout = errors.New("timed out waiting for vault lock")

const lockPollInterval = 25 * time.Millisecond

type fileLock struct {
	file *os.File
}

// acquireLock polls a non-blocking flock until it succeeds or the timeout
// elapses. The lock file itself is never removed so every holder agrees on
// one inode.
func acquireLock(path string, timeout time.Duration) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, misc.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{file: file}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = file.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
