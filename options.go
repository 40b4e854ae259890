package pdfsecure

import (
	"time"

	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// Options configures a vault instance.
//
// The master key comes from exactly one source, checked in this order:
// KeyFile, Passphrase, PassphraseEnvVar. Passphrase based keys are stretched
// with Argon2id using PassphraseSalt, which must be provisioned alongside the
// passphrase since losing it makes the vault unreadable.
type Options struct {
	// KeyFile is the hex provisioning file holding the 256-bit master key.
	KeyFile string `json:"key_file,omitempty"`

	// Passphrase and PassphraseSalt are never serialized.
	Passphrase     string `json:"-"`
	PassphraseSalt []byte `json:"-"`

	// PassphraseEnvVar names an environment variable holding the passphrase,
	// keeping it out of process listings and config files.
	PassphraseEnvVar string `json:"passphrase_env_var,omitempty"`

	// DeviceIDFile is read for the identity of the storage device the vault
	// lives on. Ignored when a device provider is passed explicitly.
	DeviceIDFile string `json:"device_id_file,omitempty"`

	// IntakeDir is scanned for documents to register.
	IntakeDir string `json:"intake_dir,omitempty"`

	// DocumentExt filters intake files, compared case-insensitively.
	// Defaults to ".pdf".
	DocumentExt string `json:"document_ext,omitempty"`

	// PageCacheSize is the number of decrypted pages kept in memory while
	// viewing. Zero disables the cache.
	PageCacheSize int `json:"page_cache_size,omitempty"`

	// LockTimeout bounds the wait for the exclusive vault lock.
	LockTimeout time.Duration `json:"lock_timeout,omitempty"`

	// EnableMemoryLock asks the OS to keep the process out of swap. Failure
	// to lock is logged, not fatal.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	return validateOptions(o)
}

func (o Options) documentExt() string {
	if o.DocumentExt == "" {
		return misc.DefaultDocumentExt
	}
	return o.DocumentExt
}

func (o Options) lockTimeout() time.Duration {
	if o.LockTimeout == 0 {
		return misc.DefaultLockTimeout
	}
	return o.LockTimeout
}
