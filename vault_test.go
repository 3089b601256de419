package keyvault

import (
	"context"
	"testing"

	"southwinds.dev/keyvault/authgate"
	"southwinds.dev/keyvault/persist"
	"southwinds.dev/keyvault/securestore"
)

var testPassphrase = "this-is-a-secure-passphrase-for-testing"

// newTestVault opens a vault over a fresh filesystem store in a temp dir
func newTestVault(t *testing.T, identity string) *KeyVault {
	t.Helper()
	return newTestVaultAt(t, identity, t.TempDir(), authgate.NewAllowAll())
}

// newTestVaultAt opens a vault over the given store path so tests can share
// storage between vault instances
func newTestVaultAt(t *testing.T, identity, storePath string, gate authgate.Gate) *KeyVault {
	t.Helper()

	vault, err := Open(identity, Options{
		StorePath:  storePath,
		Passphrase: testPassphrase,
		Gate:       gate,
	})
	if err != nil {
		t.Fatalf("Failed to open vault: %v", err)
	}
	return vault
}

func TestVaultCreation(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	if vault.store == nil {
		t.Error("Store was not initialized")
	}
	if vault.Identity() != "com.example.app" {
		t.Errorf("Expected identity com.example.app, got %s", vault.Identity())
	}

	// Construction must not create a key
	if vault.HasKey() {
		t.Error("Vault reported a key before any operation needed one")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", nil, nil); err == nil {
		t.Error("Expected error for empty identity")
	}
	if _, err := New("com.example.app", nil, nil); err == nil {
		t.Error("Expected error for nil store")
	}
	if _, err := New("../escape", nil, nil); err == nil {
		t.Error("Expected error for path traversal in identity")
	}
}

func TestOpenValidation(t *testing.T) {
	// Missing storage
	if _, err := Open("com.example.app", Options{Passphrase: testPassphrase}); err == nil {
		t.Error("Expected error when no storage is configured")
	}

	// Missing passphrase
	if _, err := Open("com.example.app", Options{StorePath: t.TempDir()}); err == nil {
		t.Error("Expected error when no passphrase is configured")
	}
}

func TestHasKeyLifecycle(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	if vault.HasKey() {
		t.Error("HasKey true before first use")
	}

	if _, err := vault.Encrypt("SecretMessage"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if !vault.HasKey() {
		t.Error("HasKey false after Encrypt created the key")
	}

	removed, err := vault.RemoveKey()
	if err != nil {
		t.Fatalf("RemoveKey failed: %v", err)
	}
	if !removed {
		t.Error("RemoveKey reported no key was present")
	}

	if vault.HasKey() {
		t.Error("HasKey true after removal")
	}
}

func TestRemoveKeyIdempotent(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	// Removing an absent key is not an error, it just reports false
	removed, err := vault.RemoveKey()
	if err != nil {
		t.Fatalf("RemoveKey on absent key failed: %v", err)
	}
	if removed {
		t.Error("RemoveKey reported removal with no key present")
	}

	if _, err = vault.Encrypt("hello world"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	removed, err = vault.RemoveKey()
	if err != nil || !removed {
		t.Fatalf("First removal: removed=%v err=%v", removed, err)
	}

	removed, err = vault.RemoveKey()
	if err != nil {
		t.Fatalf("Second removal failed: %v", err)
	}
	if removed {
		t.Error("Second removal reported a key was present")
	}
}

func TestKeyPersistsAcrossInstances(t *testing.T) {
	storePath := t.TempDir()

	vault1 := newTestVaultAt(t, "com.example.app", storePath, authgate.NewAllowAll())
	ciphertext, err := vault1.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err = vault1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh vault over the same store must resolve the same key
	vault2 := newTestVaultAt(t, "com.example.app", storePath, authgate.NewAllowAll())
	defer vault2.Close()

	if !vault2.HasKey() {
		t.Fatal("Second instance does not see the persisted key")
	}

	plaintext, err := vault2.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("Decrypt with second instance failed: %v", err)
	}
	if plaintext != "SecretMessage" {
		t.Errorf("Expected SecretMessage, got %q", plaintext)
	}
}

func TestCrossIdentityIsolation(t *testing.T) {
	storePath := t.TempDir()

	vaultA := newTestVaultAt(t, "com.example.alpha", storePath, authgate.NewAllowAll())
	defer vaultA.Close()
	vaultB := newTestVaultAt(t, "com.example.beta", storePath, authgate.NewAllowAll())
	defer vaultB.Close()

	ciphertext, err := vaultA.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// The blob is well-formed, so the other identity fails at the key stage,
	// not at input validation
	_, err = vaultB.Decrypt(context.Background(), ciphertext)
	if err == nil {
		t.Fatal("Decrypt under a different identity succeeded")
	}
	if CodeOf(err) != ErrCodeDecryption {
		t.Errorf("Expected %s, got %s", ErrCodeDecryption, CodeOf(err))
	}

	// Each identity still holds its own working key
	if !vaultA.HasKey() || !vaultB.HasKey() {
		t.Error("Expected both identities to hold keys")
	}
	if _, err = vaultB.Encrypt("hello world"); err != nil {
		t.Errorf("Identity beta cannot use its own key: %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	if err := vault.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Idempotent
	if err := vault.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if vault.HasKey() {
		t.Error("HasKey true on closed vault")
	}
	if _, err := vault.Encrypt("SecretMessage"); err == nil {
		t.Error("Encrypt succeeded on closed vault")
	}
	if _, err := vault.Decrypt(context.Background(), "aGVsbG8="); err == nil {
		t.Error("Decrypt succeeded on closed vault")
	}
	if _, err := vault.RemoveKey(); err == nil {
		t.Error("RemoveKey succeeded on closed vault")
	}
}

func TestVaultOverExternalStore(t *testing.T) {
	backend, err := persist.NewFileSystemBackend(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	store, err := securestore.NewSoftwareStore(securestore.SoftwareStoreConfig{
		Backend:    backend,
		Gate:       authgate.NewAllowAll(),
		Passphrase: testPassphrase,
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	vault, err := New("com.example.app", store, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ciphertext, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	plaintext, err := vault.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plaintext != "SecretMessage" {
		t.Errorf("Expected SecretMessage, got %q", plaintext)
	}
}
