package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemBackend implements KeyBackend on the local filesystem.
//
// Layout:
//
//	basePath/
//	├── store.json           # backend marker and bookkeeping
//	├── device.salt          # key wrapping derivation salt
//	└── keys/
//	    └── <identity>.key   # wrapped private key blob per identity
type FileSystemBackend struct {
	basePath    string
	keysDir     string // basePath/keys/
	storeConfig string // basePath/store.json
	saltPath    string // basePath/device.salt
}

// StoreConfig represents the backend marker file and bookkeeping data
type StoreConfig struct {
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Structure  string    `json:"structure_version"`
}

// NewFileSystemBackend initializes and returns a new instance of FileSystemBackend
func NewFileSystemBackend(basePath string) (*FileSystemBackend, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	fs := &FileSystemBackend{
		basePath:    basePath,
		keysDir:     filepath.Join(basePath, "keys"),
		storeConfig: filepath.Join(basePath, "store.json"),
		saltPath:    filepath.Join(basePath, "device.salt"),
	}

	for _, dir := range []string{fs.basePath, fs.keysDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := fs.initializeStoreConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize store config: %w", err)
	}

	return fs, nil
}

func (fs *FileSystemBackend) initializeStoreConfig() error {
	if _, err := os.Stat(fs.storeConfig); os.IsNotExist(err) {
		config := StoreConfig{
			Version:    "1.0.0",
			CreatedAt:  time.Now(),
			LastAccess: time.Now(),
			Structure:  "v1",
		}

		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}

		return writeSecureFile(fs.storeConfig, data, FilePermissions)
	}
	return nil
}

func (fs *FileSystemBackend) keyPath(identity string) string {
	return filepath.Join(fs.keysDir, identity+".key")
}

// SaveKey stores a wrapped key blob for the identity. The file is created with
// O_EXCL so concurrent first-use generation races resolve to a single winner.
func (fs *FileSystemBackend) SaveKey(identity string, data []byte) error {
	if err := ValidateIdentity(identity); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("key data cannot be empty")
	}

	file, err := os.OpenFile(fs.keyPath(identity), os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePermissions)
	if err != nil {
		if os.IsExist(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to create key file: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(fs.keyPath(identity))
		return fmt.Errorf("failed to write key file: %w", err)
	}

	if err = file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(fs.keyPath(identity))
		return fmt.Errorf("failed to sync key file: %w", err)
	}

	if err = file.Close(); err != nil {
		_ = os.Remove(fs.keyPath(identity))
		return fmt.Errorf("failed to close key file: %w", err)
	}

	return nil
}

// LoadKey retrieves the wrapped key blob for the identity
func (fs *FileSystemBackend) LoadKey(identity string) ([]byte, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}

	data, err := os.ReadFile(fs.keyPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load key file: %w", err)
	}

	return data, nil
}

// KeyExists reports whether a wrapped key blob is present for the identity
func (fs *FileSystemBackend) KeyExists(identity string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, fmt.Errorf("invalid identity: %w", err)
	}

	if _, err := os.Stat(fs.keyPath(identity)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat key file: %w", err)
	}
	return true, nil
}

// DeleteKey removes the wrapped key blob for the identity
func (fs *FileSystemBackend) DeleteKey(identity string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, fmt.Errorf("invalid identity: %w", err)
	}

	if err := os.Remove(fs.keyPath(identity)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete key file: %w", err)
	}
	return true, nil
}

// SaveSalt stores the derivation salt, replacing any previous value
func (fs *FileSystemBackend) SaveSalt(saltData []byte) error {
	if len(saltData) == 0 {
		return fmt.Errorf("salt data cannot be empty")
	}
	return writeSecureFile(fs.saltPath, saltData, FilePermissions)
}

// LoadSalt retrieves the derivation salt
func (fs *FileSystemBackend) LoadSalt() ([]byte, error) {
	data, err := os.ReadFile(fs.saltPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}
	return data, nil
}

// SaltExists reports whether a derivation salt is present
func (fs *FileSystemBackend) SaltExists() (bool, error) {
	if _, err := os.Stat(fs.saltPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat salt: %w", err)
	}
	return true, nil
}

func (fs *FileSystemBackend) GetType() string {
	return string(BackendTypeFileSystem)
}

// Health and utilities

func (fs *FileSystemBackend) Ping() error {
	_, err := os.Stat(fs.basePath)
	return err
}

func (fs *FileSystemBackend) Close() error {
	// Record last access on the marker file, best effort
	if configData, err := os.ReadFile(fs.storeConfig); err == nil {
		var config StoreConfig
		if err := json.Unmarshal(configData, &config); err == nil {
			config.LastAccess = time.Now()
			if updatedData, err := json.MarshalIndent(config, "", "  "); err == nil {
				_ = writeSecureFile(fs.storeConfig, updatedData, FilePermissions)
			}
		}
	}
	return nil
}

// writeSecureFile writes data through a temp file and renames it into place so
// readers never observe a partial write
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return nil
}
