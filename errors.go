package pdfsecure

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means a ciphertext did not verify under the vault key.
	// It indicates tampering or the wrong key and is never recoverable.
	ErrAuthentication = errors.New("authentication failed")

	ErrPageNotFound = errors.New("page not found")
	ErrCorruptPage  = errors.New("corrupt page")

	ErrLedgerMissing = errors.New("ledger missing")
	ErrLedgerCorrupt = errors.New("ledger corrupt")

	ErrDeviceMismatch        = errors.New("device mismatch")
	ErrDeviceIdentityMissing = errors.New("device identity missing")

	ErrDocumentNotFound = errors.New("document not found")
	ErrOpenLimitReached = errors.New("open limit reached")

	// ErrVaultLocked is returned when another process holds the vault.
	ErrVaultLocked = errors.New("vault locked by another process")
)

// DeviceMismatchError reports a ledger bound to a different storage device.
type DeviceMismatchError struct {
	Expected string
	Actual   string
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("%s: ledger is bound to %q, running on %q", ErrDeviceMismatch, e.Expected, e.Actual)
}

func (e *DeviceMismatchError) Unwrap() error {
	return ErrDeviceMismatch
}

// IsFatal reports whether err must end the process without granting access.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrDeviceIdentityMissing) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrLedgerCorrupt)
}
