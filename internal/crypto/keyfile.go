package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// LoadKeyFile reads and decodes a provisioning key file.
func LoadKeyFile(path string) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := ParseKeyFile(contents)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// GenerateKeyFile writes a fresh key to path. An existing file is never
// replaced, losing the key makes every vault sealed with it unreadable.
func GenerateKeyFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), misc.DirPermissions); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	encoded, err := GenerateKey()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, misc.FilePermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("key file %s already exists", path)
		}
		return fmt.Errorf("failed to create key file: %w", err)
	}

	if _, err = f.Write(encoded); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync key file: %w", err)
	}
	return f.Close()
}
