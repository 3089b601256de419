package persist

import (
	"fmt"
	"strings"
)

// NewBackend factory function to create storage backends
func NewBackend(config BackendConfig) (KeyBackend, error) {
	switch config.Type {
	case BackendTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem backend requires 'base_path' in config")
		}
		return NewFileSystemBackend(basePath)

	case BackendTypeS3:
		return NewS3BackendFromConfig(config)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// ValidateIdentity validates an identity name before it is used as part of a
// storage path or object key
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	// Basic validation to prevent path traversal and other issues
	if strings.Contains(identity, "..") ||
		strings.Contains(identity, "/") ||
		strings.Contains(identity, "\\") ||
		strings.Contains(identity, " ") {
		return fmt.Errorf("identity contains invalid characters")
	}

	if len(identity) > 100 {
		return fmt.Errorf("identity too long (max 100 characters)")
	}

	return nil
}
