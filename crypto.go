package keyvault

import (
	"context"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"southwinds.dev/keyvault/securestore"
)

// Encrypt encrypts a UTF-8 plaintext string under the identity's public key
// and returns the ciphertext as a base64 string.
//
// The identity key is created on first use: if no key exists yet, Encrypt
// generates one before encrypting. Only the public half is touched, so
// Encrypt never triggers an authentication challenge and never blocks on
// user interaction. Each call produces a different ciphertext for the same
// plaintext because a fresh ephemeral key is agreed per encryption.
//
// CIPHERTEXT FORMAT:
// The base64 payload decodes to the hybrid-scheme blob:
//
//	[65 bytes: uncompressed ephemeral P-256 public point]
//	[N bytes:  AES-256-GCM ciphertext + 16-byte tag]
//
// The GCM nonce is derived by both sides from the X9.63 KDF output and is
// not transmitted.
//
// Error codes:
//   - ErrCodeKeyGeneration: the key could not be created or resolved
//   - ErrCodePublicKeyDerivation: the public half could not be obtained
//   - ErrCodeUnsupportedOperation: the key cannot apply the hybrid scheme
//   - ErrCodeUnknown: the encryption step itself failed
func (v *KeyVault) Encrypt(plaintext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return "", newError(ErrCodeUnknown, "encrypt", securestore.ErrStoreClosed)
	}

	handle, err := v.ensurePrivateKey()
	if err != nil {
		return "", newError(ErrCodeKeyGeneration, "encrypt", err)
	}

	publicKey, err := v.store.DerivePublicKey(handle)
	if err != nil {
		return "", newError(ErrCodePublicKeyDerivation, "encrypt", err)
	}

	if !v.store.IsAlgorithmSupported(handle, securestore.OperationEncrypt, securestore.AlgECIESX963SHA256AESGCM) {
		return "", newError(ErrCodeUnsupportedOperation, "encrypt",
			fmt.Errorf("key %s does not support %s", handle.ID(), securestore.AlgECIESX963SHA256AESGCM))
	}

	blob, err := v.store.EncryptWithPublicKey(publicKey, securestore.AlgECIESX963SHA256AESGCM, []byte(plaintext))
	if err != nil {
		return "", newError(ErrCodeUnknown, "encrypt", err)
	}

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt decrypts a base64 ciphertext produced by Encrypt and returns the
// UTF-8 plaintext.
//
// When the key's access policy requires user authentication the store
// consults its gate before the private key is applied, and this call blocks
// until the challenge resolves. The challenge is user-paced, so Decrypt must
// not run on a latency-sensitive goroutine; DecryptAsync exists for exactly
// that. Cancel via ctx only affects the window before the challenge is
// presented.
//
// Input validation and key work are distinct failure stages: a string that
// does not decode as base64 fails with ErrCodeMalformedInput before any key
// is touched or created, while a well-formed blob that cannot be opened by
// this key (wrong key, tampered data, declined authentication, non-UTF-8
// plaintext) fails with ErrCodeDecryption.
//
// Decrypting against an absent key creates one first. The fresh key cannot
// open pre-existing ciphertext, so the call proceeds to a deterministic
// ErrCodeDecryption failure; this mirrors the lazy-creation contract rather
// than special-casing it.
func (v *KeyVault) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return "", newError(ErrCodeUnknown, "decrypt", securestore.ErrStoreClosed)
	}

	// Reject undecodable input before any key is resolved or created
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", newError(ErrCodeMalformedInput, "decrypt", fmt.Errorf("invalid base64: %w", err))
	}

	handle, err := v.ensurePrivateKey()
	if err != nil {
		return "", newError(ErrCodeKeyGeneration, "decrypt", err)
	}

	if !v.store.IsAlgorithmSupported(handle, securestore.OperationDecrypt, securestore.AlgECIESX963SHA256AESGCM) {
		return "", newError(ErrCodeUnsupportedOperation, "decrypt",
			fmt.Errorf("key %s does not support %s", handle.ID(), securestore.AlgECIESX963SHA256AESGCM))
	}

	plaintext, err := v.store.DecryptWithPrivateKey(ctx, handle, securestore.AlgECIESX963SHA256AESGCM, blob)
	if err != nil {
		return "", newError(ErrCodeDecryption, "decrypt", err)
	}

	// The contract is UTF-8 text in, UTF-8 text out; anything else means the
	// blob was not produced by Encrypt under this key
	if !utf8.Valid(plaintext) {
		return "", newError(ErrCodeDecryption, "decrypt", fmt.Errorf("plaintext is not valid UTF-8"))
	}

	return string(plaintext), nil
}

// DecryptResult carries the outcome of a DecryptAsync call
type DecryptResult struct {
	Plaintext string
	Err       error
}

// DecryptAsync runs Decrypt on a worker goroutine and returns a channel that
// delivers exactly one DecryptResult. The channel is buffered, so the worker
// never blocks on an absent receiver and the result can be collected late or
// abandoned without leaking the goroutine.
//
// There is no cancellation of an in-flight challenge: once the gate has
// presented it, the outcome is decided by the user's answer. The ctx is
// honored up to that point.
func (v *KeyVault) DecryptAsync(ctx context.Context, ciphertext string) <-chan DecryptResult {
	results := make(chan DecryptResult, 1)

	go func() {
		plaintext, err := v.Decrypt(ctx, ciphertext)
		results <- DecryptResult{Plaintext: plaintext, Err: err}
		close(results)
	}()

	return results
}
