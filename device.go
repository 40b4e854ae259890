package pdfsecure

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DeviceIdentityProvider yields the identity of the storage device the
// vault lives on. It must be stable across runs on the same device.
type DeviceIdentityProvider interface {
	DeviceID() (string, error)
}

// FileDeviceIdentity reads the identity from a file on the device, such as
// the volume GUID file Windows writes to removable drives.
type FileDeviceIdentity struct {
	Path string
}

// DefaultDeviceIDFile is the volume GUID file relative to a drive root.
const DefaultDeviceIDFile = "System Volume Information/IndexerVolumeGuid"

func (f FileDeviceIdentity) DeviceID() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDeviceIdentityMissing, f.Path)
		}
		return "", fmt.Errorf("failed to read device identity: %w", err)
	}

	// Windows writes the GUID file as UTF-16 with a BOM
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		decoded = data
	}
	id := strings.TrimSpace(strings.ReplaceAll(string(decoded), "\x00", ""))
	if id == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrDeviceIdentityMissing, f.Path)
	}
	return id, nil
}

// StaticDeviceIdentity is a fixed identity.
type StaticDeviceIdentity string

func (s StaticDeviceIdentity) DeviceID() (string, error) {
	if s == "" {
		return "", ErrDeviceIdentityMissing
	}
	return string(s), nil
}
