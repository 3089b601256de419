// Package keyvault provides an asymmetric key lifecycle and hybrid
// encryption facade over a secure key store. A vault is bound to a single
// identity; its private key lives inside the store, is created lazily on
// first use, and never crosses the package boundary. Callers exchange
// base64 ciphertext strings and UTF-8 plaintext only.
package keyvault

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"southwinds.dev/keyvault/audit"
	"southwinds.dev/keyvault/authgate"
	"southwinds.dev/keyvault/internal/debug"
	"southwinds.dev/keyvault/internal/mem"
	"southwinds.dev/keyvault/persist"
	"southwinds.dev/keyvault/securestore"
)

// Initialize memguard before any vault operation
func init() {
	memguard.CatchInterrupt()
}

// KeyVault manages the key lifecycle and the encrypt/decrypt operations for
// one identity.
//
// The vault holds no key handles between operations: every call re-resolves
// the key through the store, so concurrent vaults over the same backing store
// observe each other's key creation and removal. Construction performs no
// I/O and no key creation; the identity key materializes on the first
// operation that needs it.
//
// Encrypt, HasKey and RemoveKey are safe to call from any goroutine and never
// block on user interaction. Decrypt may block on a user-paced
// authentication challenge; DecryptAsync runs the same operation on a worker
// goroutine and delivers the outcome on a channel.
type KeyVault struct {
	identity string
	store    securestore.Store
	audit    audit.Logger

	// Memory protection level achieved at construction
	memoryProtectionLevel mem.ProtectionLevel

	mu     sync.RWMutex
	closed bool
}

// New creates a KeyVault bound to the given identity over an existing secure
// store. The constructor validates its inputs and nothing else: no storage
// access, no key lookup, no key creation. A vault for an identity that holds
// no key yet is fully functional; the key appears on first use.
//
// Parameters:
//   - identity: the name the vault's key is scoped under
//   - store: the secure key store holding (or that will hold) the key
//   - auditLogger: logger for security events (nil creates a no-op logger)
//
// Closing the vault closes the store. Use Open for a self-contained vault
// that builds its own store from Options.
func New(identity string, store securestore.Store, auditLogger audit.Logger) (*KeyVault, error) {
	if err := persist.ValidateIdentity(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	return &KeyVault{
		identity:              identity,
		store:                 store,
		audit:                 auditLogger,
		memoryProtectionLevel: mem.ProtectionNone,
	}, nil
}

// Open is the convenience constructor: it builds the storage backend, audit
// logger, authentication gate and software secure store from Options and
// returns a vault that owns all of them. Closing the vault closes the store
// and the audit logger.
//
// Memory locking is attempted when Options.EnableMemoryLock is set. This is
// best effort: on platforms or privilege levels where the address space
// cannot be fully locked the vault continues with enclave-only protection and
// records the achieved level.
//
// Example:
//
//	vault, err := keyvault.Open("com.example.app", keyvault.Options{
//	    StorePath:        "/var/lib/keyvault",
//	    EnvPassphraseVar: "KEYVAULT_PASSPHRASE",
//	})
//	if err != nil {
//	    return err
//	}
//	defer vault.Close()
func Open(identity string, options Options) (*KeyVault, error) {
	if err := persist.ValidateIdentity(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	auditLogger, err := audit.NewLogger(options.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	backend, err := persist.NewBackend(options.backendConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	gate := options.Gate
	if gate == nil {
		gate = authgate.NewAllowAll()
	}

	store, err := securestore.NewSoftwareStore(securestore.SoftwareStoreConfig{
		Backend:          backend,
		Gate:             gate,
		Audit:            auditLogger,
		Passphrase:       options.Passphrase,
		EnvPassphraseVar: options.EnvPassphraseVar,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create secure store: %w", err)
	}

	v := &KeyVault{
		identity:              identity,
		store:                 store,
		audit:                 auditLogger,
		memoryProtectionLevel: mem.ProtectionNone,
	}

	if options.EnableMemoryLock {
		// Best effort; the vault stays functional with partial protection
		protectionLevel, lockErr := mem.Lock()
		if lockErr != nil {
			fmt.Printf("WARNING: Cannot fully protect memory: %v\n", lockErr)
			fmt.Println("However, MemGuard will still provide protection for key material")
		}
		v.memoryProtectionLevel = protectionLevel
		debug.Print("memory protection level: %s\n", protectionLevel)
	}

	return v, nil
}

// Identity returns the identity this vault is bound to
func (v *KeyVault) Identity() string {
	return v.identity
}

// MemoryProtectionLevel reports the address-space protection achieved at
// construction
func (v *KeyVault) MemoryProtectionLevel() mem.ProtectionLevel {
	return v.memoryProtectionLevel
}

// HasKey reports whether a key currently exists for the vault's identity.
// The check is a pure lookup: it never creates a key, never touches private
// material and never triggers an authentication challenge.
//
// A lookup failure is reported as false rather than as an error; callers use
// HasKey for presence hints, and a store that cannot answer holds no usable
// key from the caller's point of view.
func (v *KeyVault) HasKey() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return false
	}

	handle, err := v.store.FindKey(v.identity)
	if err != nil {
		debug.Print("key lookup failed for %s: %v\n", v.identity, err)
		return false
	}
	return handle != nil
}

// RemoveKey destroys the identity's key. All ciphertext previously produced
// for this identity becomes permanently undecryptable; there is no recovery
// path. Returns whether a key was actually present and removed, so removing
// an absent key reports false with a nil error.
//
// Removal requires no authentication challenge and does not block.
func (v *KeyVault) RemoveKey() (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return false, newError(ErrCodeUnknown, "remove_key", securestore.ErrStoreClosed)
	}

	removed, err := v.store.DeleteKey(v.identity)
	if err != nil {
		return false, newError(ErrCodeUnknown, "remove_key", err)
	}

	return removed, nil
}

// Close marks the vault closed and releases the store and audit logger.
// Subsequent operations fail. Close is idempotent.
func (v *KeyVault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	var firstErr error
	if err := v.store.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close store: %w", err)
	}
	if err := v.audit.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close audit logger: %w", err)
	}

	return firstErr
}

// ensurePrivateKey resolves the identity's key, creating it on first use.
//
// Creation races between concurrent vaults resolve first-writer-wins: the
// store's exclusive create rejects the second writer, which then re-resolves
// the winner's key. After this returns successfully the store holds exactly
// one usable key for the identity.
func (v *KeyVault) ensurePrivateKey() (*securestore.KeyHandle, error) {
	handle, err := v.store.FindKey(v.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to look up key: %w", err)
	}
	if handle != nil {
		return handle, nil
	}

	handle, err = v.store.GenerateKey(securestore.KeyParams{
		Identity:    v.identity,
		KeyType:     securestore.KeyTypeEC,
		KeySizeBits: 256,
		Policy:      securestore.DefaultAccessPolicy(),
	})
	if err == nil {
		return handle, nil
	}

	// Lost the creation race; the winner's key is the identity's key now
	if isKeyExists(err) {
		handle, lookupErr := v.store.FindKey(v.identity)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to resolve key after creation race: %w", lookupErr)
		}
		if handle == nil {
			return nil, fmt.Errorf("key vanished after creation race")
		}
		return handle, nil
	}

	return nil, fmt.Errorf("failed to generate key: %w", err)
}
