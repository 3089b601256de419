// Package securestore defines the secure key store capability: a facility
// that generates, retains and applies private keys without exposing raw key
// material to its callers. The package ships a software implementation backed
// by wrapped key files and a pluggable authentication gate; the interface is
// the seam where a platform-native hardware store would plug in instead.
package securestore

import (
	"context"
	"errors"
	"time"
)

// KeyType identifies the asymmetric key family of a stored key
type KeyType string

const (
	// KeyTypeEC is the only supported key family: NIST P-256
	KeyTypeEC KeyType = "ec"
)

// Algorithm identifies an encryption scheme a key can be used with
type Algorithm string

const (
	// AlgECIESX963SHA256AESGCM is the hybrid scheme applied by this store:
	// ephemeral ECDH agreement, ANSI X9.63 KDF over SHA-256, AES-256-GCM with
	// the IV taken from the KDF output.
	AlgECIESX963SHA256AESGCM Algorithm = "ecies-x963-sha256-aesgcm"
)

// Operation is the direction a key is used in
type Operation string

const (
	OperationEncrypt Operation = "encrypt"
	OperationDecrypt Operation = "decrypt"
)

var (
	// ErrStoreClosed is returned by operations on a closed store
	ErrStoreClosed = errors.New("secure store is closed")

	// ErrUnsupportedParams is returned by GenerateKey when the requested key
	// type, size or algorithm cannot be provided
	ErrUnsupportedParams = errors.New("unsupported key parameters")
)

// AccessPolicy describes how a key may be used once created. It is attached
// at generation time, persisted with the wrapped key, and immutable
// thereafter. The store enforces it on every private-key operation.
type AccessPolicy struct {
	// RequireUserAuth gates private-key use behind the authentication gate
	RequireUserAuth bool `json:"require_user_auth"`

	// BiometricCurrentSet invalidates the key when the enrolled biometric set
	// changes. The software store records the intent; a hardware store
	// enforces it.
	BiometricCurrentSet bool `json:"biometric_current_set"`

	// DeviceUnlockedOnly restricts use to an unlocked device
	DeviceUnlockedOnly bool `json:"device_unlocked_only"`

	// Exportable permits raw key material to leave the store. Always false
	// for keys created by this system.
	Exportable bool `json:"exportable"`

	// Synchronizable permits the key to be copied into backups or synced to
	// other devices. Always false for keys created by this system.
	Synchronizable bool `json:"synchronizable"`
}

// DefaultAccessPolicy returns the policy applied to keys created on first
// use: gated behind the current biometric enrollment, device-unlocked only,
// never exported or synchronized.
func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{
		RequireUserAuth:     true,
		BiometricCurrentSet: true,
		DeviceUnlockedOnly:  true,
		Exportable:          false,
		Synchronizable:      false,
	}
}

// KeyParams carries the key-creation parameters handed to GenerateKey
type KeyParams struct {
	Identity    string
	KeyType     KeyType
	KeySizeBits int
	Policy      AccessPolicy
}

// KeyHandle is an opaque reference to a private key held inside the store.
// It carries no key material; the store is the sole custodian of the private
// key bytes.
type KeyHandle struct {
	identity  string
	keyID     string
	policy    AccessPolicy
	createdAt time.Time
}

// Identity returns the name the key is scoped under
func (h *KeyHandle) Identity() string { return h.identity }

// ID returns the store-assigned key identifier
func (h *KeyHandle) ID() string { return h.keyID }

// Policy returns the access policy attached at creation
func (h *KeyHandle) Policy() AccessPolicy { return h.policy }

// CreatedAt returns the key creation time
func (h *KeyHandle) CreatedAt() time.Time { return h.createdAt }

// PublicKeyHandle is a reference to the public half of a stored key. The
// encoded point is not secret and is exposed for encryption.
type PublicKeyHandle struct {
	keyID string
	point []byte // uncompressed P-256 point
}

// ID returns the identifier of the key the public half belongs to
func (p *PublicKeyHandle) ID() string { return p.keyID }

// Bytes returns the uncompressed public point
func (p *PublicKeyHandle) Bytes() []byte { return p.point }

// Store is the secure key store capability consumed by the vault layer.
//
// FindKey and DeleteKey never trigger an authentication challenge; existence
// checks and deletion-by-name are unauthenticated by design.
// DecryptWithPrivateKey may block on a user-paced challenge when the key's
// policy requires it, so callers run it off any latency-sensitive goroutine.
type Store interface {

	// GenerateKey creates and persists a new private key for the identity in
	// params. Fails with persist.ErrKeyExists (wrapped) when the identity
	// already holds a key, and with ErrUnsupportedParams when the parameters
	// cannot be satisfied.
	GenerateKey(params KeyParams) (*KeyHandle, error)

	// FindKey looks up the key stored for an identity. Returns (nil, nil)
	// when no key exists.
	FindKey(identity string) (*KeyHandle, error)

	// DeleteKey removes the key stored for an identity, reporting whether a
	// key was actually present. Irreversible.
	DeleteKey(identity string) (bool, error)

	// DerivePublicKey returns the public half of a stored key
	DerivePublicKey(handle *KeyHandle) (*PublicKeyHandle, error)

	// IsAlgorithmSupported reports whether the key supports the algorithm in
	// the given direction
	IsAlgorithmSupported(handle *KeyHandle, op Operation, alg Algorithm) bool

	// EncryptWithPublicKey applies the hybrid scheme under the public key.
	// Never consults the authentication gate.
	EncryptWithPublicKey(pub *PublicKeyHandle, alg Algorithm, plaintext []byte) ([]byte, error)

	// DecryptWithPrivateKey applies the private key to a hybrid ciphertext.
	// When the key's policy requires user authentication the gate is
	// consulted first and the call blocks until the challenge resolves.
	DecryptWithPrivateKey(ctx context.Context, handle *KeyHandle, alg Algorithm, ciphertext []byte) ([]byte, error)

	// Ping tests the availability of the store's persistence
	Ping() error

	// Close releases the store's resources
	Close() error

	// GetType identifies the store implementation
	GetType() string
}
