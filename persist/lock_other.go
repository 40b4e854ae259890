//go:build !unix

package persist

import (
	"errors"
	"time"
)

// ErrLockTimeout is returned when another process holds the vault lock.
var ErrLockTimeout = errors.New("timed out waiting for vault lock")

// fileLock is a no-op where flock is unavailable; the ledger version check
// still rejects conflicting writes.
type fileLock struct{}

func acquireLock(string, time.Duration) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) release() error { return nil }
