package misc

import (
	"os"
	"time"
)

const (
	// LedgerFormatVersion is the plaintext layout version written into every ledger
	LedgerFormatVersion = 1

	// ArgonTime Key derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16

	// KeySize is the XChaCha20-Poly1305 key length in bytes
	KeySize = 32

	FilePermissions os.FileMode = 0600 // user read + write
	DirPermissions  os.FileMode = 0700

	// DefaultDocumentExt is the extension picked up from the intake directory
	DefaultDocumentExt = ".pdf"

	// DefaultRenderScale is the long-side pixel size pages are rendered at
	DefaultRenderScale = 2000

	// DefaultLockTimeout bounds the wait for another process to release the vault
	DefaultLockTimeout = 5 * time.Second
)
