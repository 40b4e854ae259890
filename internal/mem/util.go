package mem

// ProtectionLevel indicates how well the process can keep key material out of swap
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // No memory protection available
	ProtectionPartial                        // Enclaves only, pages may still be swapped
	ProtectionFull                           // All current and future pages are locked
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "Full - process memory locked"
	case ProtectionPartial:
		return "Partial - key enclaves only"
	default:
		return "None - sensitive data may be swapped to disk"
	}
}

// Lock attempts to prevent decrypted pages and keys from being swapped to disk.
// Returns the protection level achieved and any error encountered
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases memory locks if they were applied
func Unlock() error {
	return unlockMemoryPlatform()
}
