package persist

import (
	"fmt"
	"strings"
)

// NewStore factory function to create storage backends
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok || basePath == "" {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(basePath)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// validateObjectName rejects names that could escape the pages namespace.
func validateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("object name cannot be empty")
	}

	if name == "." || name == ".." ||
		strings.Contains(name, "/") ||
		strings.Contains(name, "\\") ||
		strings.ContainsRune(name, 0) {
		return fmt.Errorf("object name %q contains invalid characters", name)
	}

	if len(name) > 255 {
		return fmt.Errorf("object name too long (max 255 characters)")
	}

	return nil
}
