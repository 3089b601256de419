package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"southwinds.dev/keyvault/internal/misc"
)

// DeriveWrapKey derives the store's key-wrapping key from a passphrase and the
// device salt using Argon2id. The result is returned in a locked buffer and the
// intermediate copy is wiped.
func DeriveWrapKey(passphrase []byte, saltEnclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	saltBuffer, err := saltEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open salt enclave: %w", err)
	}
	defer saltBuffer.Destroy()

	// Copy the salt so the enclave buffer can be destroyed before derivation ends
	saltBytes := make([]byte, len(saltBuffer.Bytes()))
	copy(saltBytes, saltBuffer.Bytes())
	defer memguard.WipeBytes(saltBytes)

	derivedKey := argon2.IDKey(
		passphrase,
		saltBytes,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	// Protect the derived key immediately, then wipe the unprotected copy
	protectedKey := memguard.NewBufferFromBytes(derivedKey)
	memguard.WipeBytes(derivedKey)

	return protectedKey, nil
}

// WrapKey encrypts private key material with the wrapping key using
// ChaCha20-Poly1305. Output layout: nonce || ciphertext+tag.
func WrapKey(material, wrapKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, material, nil)

	wrapped := make([]byte, len(nonce)+len(ciphertext))
	copy(wrapped[:len(nonce)], nonce)
	copy(wrapped[len(nonce):], ciphertext)

	return wrapped, nil
}

// UnwrapKey reverses WrapKey. Authentication failure means the wrapping key is
// wrong or the blob was tampered with.
func UnwrapKey(wrapped, wrapKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(wrapped) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("wrapped key data too short")
	}

	nonce := wrapped[:aead.NonceSize()]
	ciphertext := wrapped[aead.NonceSize():]

	material, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return material, nil
}

// X963KDF implements the ANSI X9.63 key derivation function over SHA-256,
// as used by the ECIES variable-IV scheme: the shared secret is hashed with a
// big-endian counter and the shared info until enough output is produced.
func X963KDF(sharedSecret, sharedInfo []byte, length int) []byte {
	var (
		out     = make([]byte, 0, length)
		counter = make([]byte, 4)
	)

	for i := uint32(1); len(out) < length; i++ {
		binary.BigEndian.PutUint32(counter, i)

		h := sha256.New()
		h.Write(sharedSecret)
		h.Write(counter)
		h.Write(sharedInfo)
		out = h.Sum(out)
	}

	return out[:length]
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// IsWeakKey rejects wrapping keys with obviously degenerate content
func IsWeakKey(key []byte) bool {
	if len(key) < 32 {
		return true
	}

	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}

	firstByte := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Expect reasonable byte variety from a KDF output
	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}
	return len(uniqueBytes) < 16
}
