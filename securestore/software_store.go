package securestore

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"southwinds.dev/keyvault/audit"
	"southwinds.dev/keyvault/authgate"
	"southwinds.dev/keyvault/internal/crypto"
	"southwinds.dev/keyvault/internal/debug"
	"southwinds.dev/keyvault/internal/misc"
	"southwinds.dev/keyvault/persist"
)

// Initialize memguard before any store operation
func init() {
	memguard.CatchInterrupt()
}

// storedKey is the at-rest representation of a managed key. The private
// scalar is wrapped with the store's derivation key before it reaches the
// backend; the public point travels in the clear because it is not a secret.
type storedKey struct {
	KeyID          string       `json:"key_id"`
	Identity       string       `json:"identity"`
	KeyType        KeyType      `json:"key_type"`
	KeySizeBits    int          `json:"key_size_bits"`
	Policy         AccessPolicy `json:"policy"`
	CreatedAt      time.Time    `json:"created_at"`
	PublicKey      []byte       `json:"public_key"`      // uncompressed P-256 point
	WrappedPrivate []byte       `json:"wrapped_private"` // nonce || ciphertext+tag of the scalar
	Checksum       string       `json:"checksum"`        // SHA-256 of the public point
}

// SoftwareStoreConfig configures the software secure store
type SoftwareStoreConfig struct {
	// Backend persists wrapped key blobs and the device salt
	Backend persist.KeyBackend

	// Gate resolves user-authentication challenges for gated keys
	Gate authgate.Gate

	// Audit receives security events; nil installs a no-op logger
	Audit audit.Logger

	// Passphrase is the device passphrase the key wrapping key is derived
	// from. Never serialized.
	Passphrase string `json:"-"`

	// EnvPassphraseVar names an environment variable to read the passphrase
	// from when Passphrase is empty, keeping it out of process arguments.
	EnvPassphraseVar string `json:"env_passphrase_var,omitempty"`
}

// SoftwareStore implements Store for targets without a hardware key store.
//
// Private keys are generated in process, wrapped at rest with
// ChaCha20-Poly1305 under an Argon2id-derived device key, and unwrapped only
// for the duration of a single private-key operation inside locked buffers.
// The wrapping key and the device salt live in memguard enclaves for the
// store's lifetime. Keys whose access policy requires user authentication
// consult the configured gate before every private-key use; the gate is never
// consulted for lookup, generation or deletion.
//
// The store holds no per-key state between calls: every operation re-reads
// the wrapped blob from the backend, so concurrent stores over the same
// backend observe a consistent last-writer-wins view.
type SoftwareStore struct {
	backend persist.KeyBackend
	gate    authgate.Gate
	audit   audit.Logger

	// Wrapping key material, enclave-protected
	wrapKeyEnclave *memguard.Enclave
	saltEnclave    *memguard.Enclave

	mu     sync.RWMutex
	closed bool
}

// NewSoftwareStore initializes the software store: verifies the backend is
// reachable, loads or creates the device salt, and derives the key wrapping
// key from the passphrase. No identity key is created here; keys materialize
// lazily on first use.
func NewSoftwareStore(config SoftwareStoreConfig) (*SoftwareStore, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if config.Gate == nil {
		return nil, fmt.Errorf("authentication gate is required")
	}

	auditLogger := config.Audit
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	// Fail early on an unreachable backend
	if err := config.Backend.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	s := &SoftwareStore{
		backend: config.Backend,
		gate:    config.Gate,
		audit:   auditLogger,
	}

	passphrase, err := resolvePassphrase(config.Passphrase, config.EnvPassphraseVar)
	if err != nil {
		return nil, err
	}

	if err = s.loadOrCreateSalt(); err != nil {
		return nil, fmt.Errorf("failed to set up derivation salt: %w", err)
	}

	if err = s.setupWrapKey(passphrase); err != nil {
		return nil, fmt.Errorf("failed to set up wrapping key: %w", err)
	}

	return s, nil
}

// resolvePassphrase returns the device passphrase from the explicit value or
// the named environment variable
func resolvePassphrase(passphrase, envVar string) ([]byte, error) {
	if passphrase != "" {
		return []byte(passphrase), nil
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return []byte(v), nil
		}
		return nil, fmt.Errorf("environment variable %s is empty or unset", envVar)
	}
	return nil, fmt.Errorf("either Passphrase or EnvPassphraseVar must be provided")
}

// loadOrCreateSalt loads the device salt from the backend or creates a fresh
// one on first run. The salt must stay stable across sessions or previously
// wrapped keys become unrecoverable.
func (s *SoftwareStore) loadOrCreateSalt() error {
	exists, err := s.backend.SaltExists()
	if err != nil {
		return fmt.Errorf("failed to check salt: %w", err)
	}

	var saltBytes []byte
	if exists {
		if saltBytes, err = s.backend.LoadSalt(); err != nil {
			return fmt.Errorf("failed to load salt: %w", err)
		}
	} else {
		saltBytes = make([]byte, misc.SaltSize)
		if _, err = rand.Read(saltBytes); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		if err = s.backend.SaveSalt(saltBytes); err != nil {
			return fmt.Errorf("failed to persist salt: %w", err)
		}
	}

	// Move the salt into protected memory and wipe the plain copy
	saltBuffer := memguard.NewBufferFromBytes(saltBytes)
	s.saltEnclave = saltBuffer.Seal()

	return nil
}

// setupWrapKey derives the ChaCha20-Poly1305 wrapping key with Argon2id and
// seals it into an enclave
func (s *SoftwareStore) setupWrapKey(passphrase []byte) error {
	defer memguard.WipeBytes(passphrase)

	wrapKeyBuffer, err := crypto.DeriveWrapKey(passphrase, s.saltEnclave)
	if err != nil {
		return fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	if crypto.IsWeakKey(wrapKeyBuffer.Bytes()) {
		wrapKeyBuffer.Destroy()
		return fmt.Errorf("derived wrapping key failed entropy check")
	}

	debug.Print("wrapping key derived (%d bytes)\n", wrapKeyBuffer.Size())

	s.wrapKeyEnclave = wrapKeyBuffer.Seal()
	return nil
}

// GenerateKey creates and persists a fresh P-256 key for the identity.
// Generation itself never consults the authentication gate: no private-key
// operation has occurred yet. The backend's exclusive create makes the
// operation atomic from the caller's perspective - afterwards the store
// either holds a usable key or none.
func (s *SoftwareStore) GenerateKey(params KeyParams) (*KeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if err := persist.ValidateIdentity(params.Identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	if params.KeyType != KeyTypeEC || params.KeySizeBits != misc.KeySizeBits {
		s.audit.Log("key_generate", false, map[string]interface{}{
			"identity": params.Identity,
			"error":    "unsupported key parameters",
		})
		return nil, fmt.Errorf("%w: %s-%d", ErrUnsupportedParams, params.KeyType, params.KeySizeBits)
	}

	privateKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		s.audit.Log("key_generate", false, map[string]interface{}{
			"identity": params.Identity,
			"error":    "key generation failed",
		})
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	wrapped, err := s.wrapScalar(privateKey.Bytes())
	if err != nil {
		s.audit.Log("key_generate", false, map[string]interface{}{
			"identity": params.Identity,
			"error":    "key wrapping failed",
		})
		return nil, fmt.Errorf("failed to wrap private key: %w", err)
	}

	publicPoint := privateKey.PublicKey().Bytes()

	record := storedKey{
		KeyID:          uuid.NewString(),
		Identity:       params.Identity,
		KeyType:        params.KeyType,
		KeySizeBits:    params.KeySizeBits,
		Policy:         params.Policy,
		CreatedAt:      time.Now().UTC(),
		PublicKey:      publicPoint,
		WrappedPrivate: wrapped,
		Checksum:       crypto.CalculateChecksum(publicPoint),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key record: %w", err)
	}

	if err = s.backend.SaveKey(params.Identity, data); err != nil {
		s.audit.Log("key_generate", false, map[string]interface{}{
			"identity": params.Identity,
			"error":    err.Error(),
		})
		if errors.Is(err, persist.ErrKeyExists) {
			return nil, fmt.Errorf("identity %s: %w", params.Identity, persist.ErrKeyExists)
		}
		return nil, fmt.Errorf("failed to persist key: %w", err)
	}

	s.audit.Log("key_generate", true, map[string]interface{}{
		"identity": params.Identity,
		"key_id":   record.KeyID,
	})

	return &KeyHandle{
		identity:  record.Identity,
		keyID:     record.KeyID,
		policy:    record.Policy,
		createdAt: record.CreatedAt,
	}, nil
}

// FindKey looks up the stored key for an identity without touching private
// material and without any authentication challenge. Returns (nil, nil) when
// no key exists.
func (s *SoftwareStore) FindKey(identity string) (*KeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	record, err := s.loadRecord(identity)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || misc.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}

	return &KeyHandle{
		identity:  record.Identity,
		keyID:     record.KeyID,
		policy:    record.Policy,
		createdAt: record.CreatedAt,
	}, nil
}

// DeleteKey removes the stored key for an identity. No authentication is
// required to delete a key addressed by name; the operation is irreversible
// and any ciphertext produced under the key becomes undecryptable.
func (s *SoftwareStore) DeleteKey(identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	removed, err := s.backend.DeleteKey(identity)
	if err != nil {
		s.audit.Log("key_remove", false, map[string]interface{}{
			"identity": identity,
			"error":    err.Error(),
		})
		return false, err
	}

	s.audit.Log("key_remove", true, map[string]interface{}{
		"identity": identity,
		"removed":  removed,
	})

	return removed, nil
}

// DerivePublicKey returns the public half of a stored key. The point is kept
// alongside the wrapped private scalar precisely so this path needs neither
// unwrapping nor authentication.
func (s *SoftwareStore) DerivePublicKey(handle *KeyHandle) (*PublicKeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if handle == nil {
		return nil, fmt.Errorf("key handle is required")
	}

	record, err := s.loadRecord(handle.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}

	// Verify the point parses and matches its checksum before handing it out
	if crypto.CalculateChecksum(record.PublicKey) != record.Checksum {
		return nil, fmt.Errorf("public key checksum mismatch for identity %s", handle.identity)
	}
	if _, err = ecdh.P256().NewPublicKey(record.PublicKey); err != nil {
		return nil, fmt.Errorf("stored public key is invalid: %w", err)
	}

	return &PublicKeyHandle{
		keyID: record.KeyID,
		point: record.PublicKey,
	}, nil
}

// IsAlgorithmSupported reports whether the key can apply the algorithm in the
// given direction
func (s *SoftwareStore) IsAlgorithmSupported(handle *KeyHandle, op Operation, alg Algorithm) bool {
	if handle == nil {
		return false
	}
	switch op {
	case OperationEncrypt, OperationDecrypt:
		return alg == AlgECIESX963SHA256AESGCM
	default:
		return false
	}
}

// EncryptWithPublicKey applies the hybrid scheme under the public key. This
// path never requires authentication.
func (s *SoftwareStore) EncryptWithPublicKey(pub *PublicKeyHandle, alg Algorithm, plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if pub == nil {
		return nil, fmt.Errorf("public key handle is required")
	}
	if alg != AlgECIESX963SHA256AESGCM {
		return nil, fmt.Errorf("%w: algorithm %s", ErrUnsupportedParams, alg)
	}

	recipient, err := ecdh.P256().NewPublicKey(pub.point)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	blob, err := eciesSeal(recipient, plaintext)
	if err != nil {
		s.audit.Log("encrypt_data", false, map[string]interface{}{
			"key_id": pub.keyID,
			"error":  err.Error(),
		})
		return nil, err
	}

	s.audit.Log("encrypt_data", true, map[string]interface{}{
		"key_id":      pub.keyID,
		"data_size":   len(plaintext),
		"result_size": len(blob),
	})

	return blob, nil
}

// DecryptWithPrivateKey applies the private key to a hybrid ciphertext. For
// keys whose policy requires user authentication the configured gate is
// consulted exactly once before the key is unwrapped; a declined or failed
// challenge aborts the operation and is never retried here. The challenge is
// user-paced, so this call can block indefinitely.
func (s *SoftwareStore) DecryptWithPrivateKey(ctx context.Context, handle *KeyHandle, alg Algorithm, ciphertext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if handle == nil {
		return nil, fmt.Errorf("key handle is required")
	}
	if alg != AlgECIESX963SHA256AESGCM {
		return nil, fmt.Errorf("%w: algorithm %s", ErrUnsupportedParams, alg)
	}

	// Re-resolve the record; handles are never trusted to be current
	record, err := s.loadRecord(handle.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}

	if record.Policy.RequireUserAuth {
		s.audit.Log("auth_challenge", true, map[string]interface{}{
			"identity": record.Identity,
			"key_id":   record.KeyID,
		})

		reason := fmt.Sprintf("Unlock the private key for %q to decrypt", record.Identity)
		if err = s.gate.Authorize(ctx, reason); err != nil {
			s.audit.Log("auth_declined", false, map[string]interface{}{
				"identity": record.Identity,
				"key_id":   record.KeyID,
				"error":    err.Error(),
			})
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	plaintext, err := s.unwrapAndDecrypt(record, ciphertext)
	if err != nil {
		s.audit.Log("decrypt_data", false, map[string]interface{}{
			"identity": record.Identity,
			"key_id":   record.KeyID,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.audit.Log("decrypt_data", true, map[string]interface{}{
		"identity":    record.Identity,
		"key_id":      record.KeyID,
		"result_size": len(plaintext),
	})

	return plaintext, nil
}

// unwrapAndDecrypt unwraps the private scalar into protected memory for the
// duration of a single ECIES open
func (s *SoftwareStore) unwrapAndDecrypt(record *storedKey, ciphertext []byte) ([]byte, error) {
	wrapKeyBuffer, err := s.wrapKeyEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access wrapping key: %w", err)
	}
	defer wrapKeyBuffer.Destroy()

	scalar, err := crypto.UnwrapKey(record.WrappedPrivate, wrapKeyBuffer.Bytes())
	if err != nil {
		s.audit.Log("key_unwrap", false, map[string]interface{}{
			"identity": record.Identity,
			"key_id":   record.KeyID,
		})
		return nil, fmt.Errorf("failed to unwrap private key: %w", err)
	}

	// Keep the scalar in a locked buffer and wipe it when done
	scalarBuffer := memguard.NewBufferFromBytes(scalar)
	defer scalarBuffer.Destroy()

	privateKey, err := ecdh.P256().NewPrivateKey(scalarBuffer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct private key: %w", err)
	}

	return eciesOpen(privateKey, ciphertext)
}

// loadRecord reads and parses the stored key record for an identity
func (s *SoftwareStore) loadRecord(identity string) (*storedKey, error) {
	data, err := s.backend.LoadKey(identity)
	if err != nil {
		return nil, err
	}

	var record storedKey
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse key record: %w", err)
	}

	return &record, nil
}

// wrapScalar wraps a private scalar under the store's wrapping key
func (s *SoftwareStore) wrapScalar(scalar []byte) ([]byte, error) {
	wrapKeyBuffer, err := s.wrapKeyEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access wrapping key: %w", err)
	}
	defer wrapKeyBuffer.Destroy()

	return crypto.WrapKey(scalar, wrapKeyBuffer.Bytes())
}

// Ping tests the availability of the backing store
func (s *SoftwareStore) Ping() error {
	return s.backend.Ping()
}

// Close marks the store closed and releases the backend. The enclaves are
// wiped by memguard teardown.
func (s *SoftwareStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.backend.Close()
}

func (s *SoftwareStore) GetType() string {
	return "software"
}
