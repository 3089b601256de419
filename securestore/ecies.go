package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"southwinds.dev/keyvault/internal/crypto"
	"southwinds.dev/keyvault/internal/misc"
)

// eciesSeal encrypts plaintext under a P-256 public key with the
// X9.63-SHA256-AESGCM hybrid scheme.
//
// A fresh ephemeral keypair is agreed against the recipient key; the shared
// secret is run through the X9.63 KDF with the ephemeral public point as
// shared info, yielding the AES-256 key and the GCM nonce. Output layout:
//
//	[65 bytes: uncompressed ephemeral public point]
//	[N bytes:  AES-GCM ciphertext + 16-byte tag]
//
// The nonce is not transmitted: both sides derive it from the KDF, which is
// what makes the blob self-contained.
func eciesSeal(recipient *ecdh.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to agree shared secret: %w", err)
	}

	ephemeralPoint := ephemeral.PublicKey().Bytes()

	// Derive AES key and nonce in one KDF pass
	keyMaterial := crypto.X963KDF(sharedSecret, ephemeralPoint, misc.AESKeySize+misc.GCMNonceSize)
	aesKey := keyMaterial[:misc.AESKeySize]
	nonce := keyMaterial[misc.AESKeySize:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, len(ephemeralPoint)+len(ciphertext))
	copy(out[:len(ephemeralPoint)], ephemeralPoint)
	copy(out[len(ephemeralPoint):], ciphertext)

	return out, nil
}

// eciesOpen reverses eciesSeal with the recipient's private key. Any
// mismatch - wrong key, truncated blob, flipped bit - surfaces as a GCM
// authentication failure.
func eciesOpen(recipient *ecdh.PrivateKey, blob []byte) ([]byte, error) {
	if len(blob) < misc.EphemeralPointSize+misc.GCMTagSize {
		return nil, errors.New("ciphertext too short")
	}

	ephemeralPoint := blob[:misc.EphemeralPointSize]
	ciphertext := blob[misc.EphemeralPointSize:]

	ephemeralPub, err := ecdh.P256().NewPublicKey(ephemeralPoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}

	sharedSecret, err := recipient.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("failed to agree shared secret: %w", err)
	}

	keyMaterial := crypto.X963KDF(sharedSecret, ephemeralPoint, misc.AESKeySize+misc.GCMNonceSize)
	aesKey := keyMaterial[:misc.AESKeySize]
	nonce := keyMaterial[misc.AESKeySize:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return plaintext, nil
}
