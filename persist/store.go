package persist

import (
	"errors"
)

// ErrKeyExists is returned by SaveKey when a wrapped key is already present
// for the identity. Creation is first-writer-wins; callers that lose the race
// re-resolve the stored key instead of overwriting it.
var ErrKeyExists = errors.New("key already exists for identity")

// KeyBackend defines the interface for persisting wrapped key material and the
// device salt. All key data passed to this interface is already wrapped by the
// secure store layer; backends never see plaintext key material.
type KeyBackend interface {

	// Key blobs

	// SaveKey stores the wrapped key blob for an identity. It fails with
	// ErrKeyExists if a blob is already present; it never overwrites.
	SaveKey(identity string, data []byte) error

	// LoadKey retrieves the wrapped key blob for an identity.
	// Returns an error satisfying os.IsNotExist semantics when absent.
	LoadKey(identity string) ([]byte, error)

	// KeyExists reports whether a wrapped key blob is present for the identity.
	KeyExists(identity string) (bool, error)

	// DeleteKey removes the wrapped key blob for an identity.
	// Returns whether a blob was actually present and removed.
	DeleteKey(identity string) (bool, error)

	// Device salt

	// SaveSalt stores the store-wide key derivation salt, overwriting any
	// previous value.
	SaveSalt(saltData []byte) error

	// LoadSalt retrieves the key derivation salt.
	LoadSalt() ([]byte, error)

	// SaltExists reports whether a derivation salt is present.
	SaltExists() (bool, error)

	// Health and utilities

	// Ping tests the connectivity for remote backends.
	Ping() error

	// Close closes the backend and releases any resources it holds.
	Close() error

	// GetType retrieves the type of backend being used.
	GetType() string
}

// BackendConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := BackendConfig{
//	    Type:   BackendTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/var/lib/keyvault"},
//	}
type BackendConfig struct {
	// Type specifies the storage backend to be used.
	// Must be one of the predefined BackendType constants.
	Type BackendType `json:"type"`

	// Config contains configuration settings specific to the chosen backend.
	// For BackendTypeS3 this includes keys like "endpoint", "bucket" and
	// credential material; for BackendTypeFileSystem only "base_path".
	Config map[string]interface{} `json:"config"`
}

// BackendType represents the different types of storage backends that can be used.
type BackendType string

// Supported storage backends.
const (
	// BackendTypeFileSystem stores wrapped keys as files under a base path.
	BackendTypeFileSystem BackendType = "filesystem"

	// BackendTypeS3 stores wrapped keys as objects in an S3-compatible bucket.
	BackendTypeS3 BackendType = "s3"
)
