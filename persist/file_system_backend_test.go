package persist

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileSystemBackend(t *testing.T) {
	backend, err := NewFileSystemBackend(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer backend.Close()

	if backend.GetType() != "filesystem" {
		t.Errorf("Expected type filesystem, got %s", backend.GetType())
	}

	testBackendImplementation(t, backend)
}

// testBackendImplementation exercises the KeyBackend contract and is shared
// with the S3 backend test
func testBackendImplementation(t *testing.T, backend KeyBackend) {
	t.Helper()

	const identity = "com.example.app"
	keyData := []byte(`{"key_id":"test","wrapped_private":"AAAA"}`)

	if err := backend.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	// No key yet
	exists, err := backend.KeyExists(identity)
	if err != nil {
		t.Fatalf("KeyExists failed: %v", err)
	}
	if exists {
		t.Error("KeyExists true before any key was saved")
	}

	if _, err = backend.LoadKey(identity); err == nil {
		t.Error("LoadKey succeeded for an absent key")
	} else if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadKey error does not satisfy not-exist semantics: %v", err)
	}

	// Save and read back
	if err = backend.SaveKey(identity, keyData); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	exists, err = backend.KeyExists(identity)
	if err != nil || !exists {
		t.Fatalf("KeyExists after save: exists=%v err=%v", exists, err)
	}

	loaded, err := backend.LoadKey(identity)
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}
	if string(loaded) != string(keyData) {
		t.Errorf("Loaded key data does not match saved data")
	}

	// Creation is exclusive, a second save must not overwrite
	err = backend.SaveKey(identity, []byte("other"))
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("Expected ErrKeyExists on duplicate save, got %v", err)
	}
	loaded, _ = backend.LoadKey(identity)
	if string(loaded) != string(keyData) {
		t.Error("Duplicate save overwrote the original key")
	}

	// Deletion reports presence
	removed, err := backend.DeleteKey(identity)
	if err != nil || !removed {
		t.Fatalf("DeleteKey: removed=%v err=%v", removed, err)
	}
	removed, err = backend.DeleteKey(identity)
	if err != nil {
		t.Fatalf("DeleteKey on absent key failed: %v", err)
	}
	if removed {
		t.Error("DeleteKey reported removal with no key present")
	}

	// Salt round trip
	exists, err = backend.SaltExists()
	if err != nil {
		t.Fatalf("SaltExists failed: %v", err)
	}
	if exists {
		t.Error("SaltExists true before any salt was saved")
	}

	salt := []byte("0123456789abcdef")
	if err = backend.SaveSalt(salt); err != nil {
		t.Fatalf("SaveSalt failed: %v", err)
	}
	loadedSalt, err := backend.LoadSalt()
	if err != nil {
		t.Fatalf("LoadSalt failed: %v", err)
	}
	if string(loadedSalt) != string(salt) {
		t.Error("Loaded salt does not match saved salt")
	}
}

func TestFileSystemBackendFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("File permission checks are not meaningful on Windows")
	}

	basePath := t.TempDir()
	backend, err := NewFileSystemBackend(basePath)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer backend.Close()

	if err = backend.SaveKey("com.example.app", []byte("wrapped")); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(basePath, "keys", "com.example.app.key"))
	if err != nil {
		t.Fatalf("Key file not found: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Key file permissions are %o, want 0600", info.Mode().Perm())
	}
}

func TestFileSystemBackendPersistence(t *testing.T) {
	basePath := t.TempDir()

	backend1, err := NewFileSystemBackend(basePath)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if err = backend1.SaveKey("com.example.app", []byte("wrapped")); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}
	if err = backend1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A second backend over the same path sees the key
	backend2, err := NewFileSystemBackend(basePath)
	if err != nil {
		t.Fatalf("Failed to reopen backend: %v", err)
	}
	defer backend2.Close()

	data, err := backend2.LoadKey("com.example.app")
	if err != nil {
		t.Fatalf("LoadKey after reopen failed: %v", err)
	}
	if string(data) != "wrapped" {
		t.Error("Key data did not survive backend restart")
	}
}

func TestValidateIdentity(t *testing.T) {
	valid := []string{
		"com.example.app",
		"alpha",
		"user-123_x",
	}
	for _, id := range valid {
		if err := ValidateIdentity(id); err != nil {
			t.Errorf("ValidateIdentity(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"../escape",
		"a/b",
		"a\\b",
		string(make([]byte, 101)),
	}
	for _, id := range invalid {
		if err := ValidateIdentity(id); err == nil {
			t.Errorf("ValidateIdentity(%q) accepted an invalid identity", id)
		}
	}
}

func TestNewBackendFactory(t *testing.T) {
	backend, err := NewBackend(BackendConfig{
		Type:   BackendTypeFileSystem,
		Config: map[string]interface{}{"base_path": t.TempDir()},
	})
	if err != nil {
		t.Fatalf("Factory failed for filesystem config: %v", err)
	}
	defer backend.Close()

	if backend.GetType() != "filesystem" {
		t.Errorf("Expected filesystem backend, got %s", backend.GetType())
	}

	if _, err = NewBackend(BackendConfig{Type: "bogus"}); err == nil {
		t.Error("Factory accepted an unknown backend type")
	}
}
