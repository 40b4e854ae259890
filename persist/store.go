package persist

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a ledger or page object does not exist.
var ErrNotFound = errors.New("object not found")

// VersionedData represents data with its version information
type VersionedData struct {
	Data      []byte
	Version   string // ETag or content hash
	Timestamp time.Time
}

// Store defines the interface for persisting vault objects.
// All data passed to this interface is ciphertext produced by the vault
// layer; a store never sees plaintext pages or ledger contents.
type Store interface {

	// Ledger

	// SaveLedger atomically replaces the ledger object. When expectedVersion
	// is not empty and differs from the stored version a ConcurrencyError is
	// returned and nothing is written.
	SaveLedger(encryptedLedger []byte, expectedVersion string) (newVersion string, err error)

	// LoadLedger returns the ledger ciphertext or an error wrapping ErrNotFound.
	LoadLedger() (*VersionedData, error)

	LedgerExists() (bool, error)

	// Pages

	// SavePage writes one page object. The name is produced by the vault and
	// contains no path separators.
	SavePage(name string, encryptedPage []byte) error

	// LoadPage returns the page ciphertext or an error wrapping ErrNotFound.
	LoadPage(name string) ([]byte, error)

	PageExists(name string) (bool, error)

	// DeletePage removes a page object. Deleting a missing page is not an error.
	DeletePage(name string) error

	// ListPages returns every page object name in lexical order.
	ListPages() ([]string, error)

	// Health and utilities

	// Ping tests the connectivity for remote backends.
	Ping() error

	// Close releases any resources held by the store.
	Close() error

	// GetType retrieves the type of store being used.
	GetType() string
}

// Locker is implemented by stores that can hold an exclusive advisory lock
// on the vault for the duration of a mutating session.
type Locker interface {
	Lock(timeout time.Duration) error
	Unlock() error
}

// StoreConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/media/usb/.pdf-secure"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type"`

	// Config contains settings specific to the chosen backend, e.g.
	// "base_path" for the file system or "bucket"/"endpoint" for S3.
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem keeps the vault in a directory, normally on the bound device.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 keeps the vault objects in an S3 compatible bucket.
	StoreTypeS3 StoreType = "s3"
)

// ConcurrencyError represents version conflict errors
type ConcurrencyError struct {
	ExpectedVersion string
	ActualVersion   string
	Operation       string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict in %s: expected version %s, but found %s",
		e.Operation, e.ExpectedVersion, e.ActualVersion)
}

func (e ConcurrencyError) IsConcurrencyError() bool {
	return true
}

// vaultConfig is the plaintext descriptor written next to the vault objects.
// It only carries bookkeeping, never keys or document names.
type vaultConfig struct {
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Structure  string    `json:"structure_version"`
}

const (
	ledgerObjectName = "ledger.enc"
	pagesDirName     = "pages"
	configObjectName = "vault.json"
	pageObjectSuffix = ".enc"
)
