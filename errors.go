package keyvault

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a vault failure by its stage in the key or data
// lifecycle. Callers branch on the code rather than on error message text.
type ErrorCode string

const (
	// ErrCodeKeyGeneration indicates the identity key could not be created or
	// resolved in the secure store
	ErrCodeKeyGeneration ErrorCode = "key_generation"

	// ErrCodePublicKeyDerivation indicates the public half of an existing key
	// could not be obtained
	ErrCodePublicKeyDerivation ErrorCode = "public_key_derivation"

	// ErrCodeUnsupportedOperation indicates the resolved key cannot apply the
	// required algorithm in the required direction
	ErrCodeUnsupportedOperation ErrorCode = "unsupported_operation"

	// ErrCodeMalformedInput indicates caller input was rejected before any
	// cryptographic work: undecodable transport encoding, impossible sizes
	ErrCodeMalformedInput ErrorCode = "malformed_input"

	// ErrCodeDecryption indicates the private-key operation or the decode of
	// its output failed: wrong key, tampered ciphertext, declined
	// authentication, invalid plaintext encoding
	ErrCodeDecryption ErrorCode = "decryption"

	// ErrCodeUnknown covers failures that fit no other stage
	ErrCodeUnknown ErrorCode = "unknown"
)

// VaultError is the error type returned by all KeyVault operations. It tags
// the underlying cause with the lifecycle stage it occurred in and the
// operation that was running.
//
// The zero description distinction matters to callers: a MalformedInput error
// means the input never reached the key, while a Decryption error means a
// well-formed input failed against this key.
type VaultError struct {
	// Code classifies the failure stage
	Code ErrorCode

	// Op names the vault operation that failed ("encrypt", "decrypt", ...)
	Op string

	// Err is the underlying cause, nil when the stage itself is the whole story
	Err error
}

func (e *VaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keyvault: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("keyvault: %s: %s", e.Op, e.Code)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *VaultError) Unwrap() error {
	return e.Err
}

// Description returns a stable human-readable summary for the failure stage,
// suitable for surfacing to an end user
func (e *VaultError) Description() string {
	switch e.Code {
	case ErrCodeKeyGeneration:
		return "the encryption key could not be created or accessed"
	case ErrCodePublicKeyDerivation:
		return "the public encryption key could not be derived"
	case ErrCodeUnsupportedOperation:
		return "the key does not support the requested operation"
	case ErrCodeMalformedInput:
		return "the input data is not in the expected format"
	case ErrCodeDecryption:
		return "the data could not be decrypted"
	default:
		return "an unexpected error occurred"
	}
}

// newError wraps a cause into a VaultError for the given operation and stage
func newError(code ErrorCode, op string, err error) *VaultError {
	return &VaultError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the ErrorCode from an error returned by this package.
// Errors from elsewhere report ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeUnknown
}
