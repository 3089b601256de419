package keyvault

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"southwinds.dev/keyvault/authgate"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple", "SecretMessage"},
		{"WithSpaces", "hello world"},
		{"Empty", ""},
		{"Unicode", "héllo wörld 日本語 🔐"},
		{"JSON", `{"user":"alice","token":"abc123"}`},
		{"Large", strings.Repeat("0123456789", 10000)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := vault.Encrypt(tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			// Output must be transport-safe base64
			if _, err = base64.StdEncoding.DecodeString(ciphertext); err != nil {
				t.Fatalf("Ciphertext is not valid base64: %v", err)
			}

			plaintext, err := vault.Decrypt(context.Background(), ciphertext)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if plaintext != tc.plaintext {
				t.Errorf("Round trip mismatch: got %q, want %q", plaintext, tc.plaintext)
			}
		})
	}
}

func TestEncryptNondeterministic(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	first, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Fresh ephemeral key per call means identical plaintexts never produce
	// identical ciphertexts
	if first == second {
		t.Error("Two encryptions of the same plaintext produced identical ciphertext")
	}

	for _, ct := range []string{first, second} {
		plaintext, err := vault.Decrypt(context.Background(), ct)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if plaintext != "SecretMessage" {
			t.Errorf("Expected SecretMessage, got %q", plaintext)
		}
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	testCases := []struct {
		name  string
		input string
	}{
		{"NotBase64", "this is not base64!!!"},
		{"InvalidPadding", "YWJjZA=!"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := vault.Decrypt(context.Background(), tc.input)
			if err == nil {
				t.Fatal("Decrypt accepted malformed input")
			}
			if CodeOf(err) != ErrCodeMalformedInput {
				t.Errorf("Expected %s, got %s", ErrCodeMalformedInput, CodeOf(err))
			}
		})
	}

	// Input validation happens before key resolution, so no key may have
	// been created as a side effect
	if vault.HasKey() {
		t.Error("Malformed input caused key creation")
	}
}

func TestDecryptTruncatedBlob(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	// Valid base64, but the payload is shorter than any possible blob
	short := base64.StdEncoding.EncodeToString([]byte("too short"))

	_, err := vault.Decrypt(context.Background(), short)
	if err == nil {
		t.Fatal("Decrypt accepted a truncated blob")
	}
	if CodeOf(err) != ErrCodeDecryption {
		t.Errorf("Expected %s, got %s", ErrCodeDecryption, CodeOf(err))
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	ciphertext, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	blob, _ := base64.StdEncoding.DecodeString(ciphertext)
	blob[len(blob)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(blob)

	_, err = vault.Decrypt(context.Background(), tampered)
	if err == nil {
		t.Fatal("Decrypt accepted tampered ciphertext")
	}
	if CodeOf(err) != ErrCodeDecryption {
		t.Errorf("Expected %s, got %s", ErrCodeDecryption, CodeOf(err))
	}
}

func TestDecryptAfterKeyRemoval(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	ciphertext, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err = vault.RemoveKey(); err != nil {
		t.Fatalf("RemoveKey failed: %v", err)
	}

	// Decrypt lazily creates a fresh key, which cannot open the old blob
	_, err = vault.Decrypt(context.Background(), ciphertext)
	if err == nil {
		t.Fatal("Decrypt succeeded after the key was destroyed")
	}
	if CodeOf(err) != ErrCodeDecryption {
		t.Errorf("Expected %s, got %s", ErrCodeDecryption, CodeOf(err))
	}

	// The lazy creation leaves a usable key behind
	if !vault.HasKey() {
		t.Error("Decrypt attempt did not create a fresh key")
	}
}

func TestDecryptDeclinedAuthentication(t *testing.T) {
	storePath := t.TempDir()

	// Create the key and the ciphertext with a permissive gate
	vault := newTestVaultAt(t, "com.example.app", storePath, authgate.NewAllowAll())
	ciphertext, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	vault.Close()

	// Re-open with a denying gate; encryption still works, decryption fails
	denied := newTestVaultAt(t, "com.example.app", storePath, authgate.NewDenyAll())
	defer denied.Close()

	if _, err = denied.Encrypt("hello world"); err != nil {
		t.Errorf("Encrypt consulted the gate: %v", err)
	}

	_, err = denied.Decrypt(context.Background(), ciphertext)
	if err == nil {
		t.Fatal("Decrypt succeeded with a denying gate")
	}
	if CodeOf(err) != ErrCodeDecryption {
		t.Errorf("Expected %s, got %s", ErrCodeDecryption, CodeOf(err))
	}
	if !errors.Is(err, authgate.ErrDeclined) {
		t.Errorf("Expected declined-authentication cause, got %v", err)
	}
}

func TestDecryptAsync(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	ciphertext, err := vault.Encrypt("SecretMessage")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	results := vault.DecryptAsync(context.Background(), ciphertext)

	select {
	case result := <-results:
		if result.Err != nil {
			t.Fatalf("Async decrypt failed: %v", result.Err)
		}
		if result.Plaintext != "SecretMessage" {
			t.Errorf("Expected SecretMessage, got %q", result.Plaintext)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Async decrypt did not deliver a result")
	}

	// Exactly one delivery, then the channel closes
	if _, ok := <-results; ok {
		t.Error("Channel delivered a second result")
	}
}

func TestDecryptAsyncError(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	result := <-vault.DecryptAsync(context.Background(), "not base64!!!")
	if result.Err == nil {
		t.Fatal("Async decrypt accepted malformed input")
	}
	if CodeOf(result.Err) != ErrCodeMalformedInput {
		t.Errorf("Expected %s, got %s", ErrCodeMalformedInput, CodeOf(result.Err))
	}
}

func TestConcurrentEncrypt(t *testing.T) {
	vault := newTestVault(t, "com.example.app")
	defer vault.Close()

	const workers = 16

	var wg sync.WaitGroup
	ciphertexts := make([]string, workers)
	errs := make([]error, workers)

	// All workers race through lazy key creation; exactly one key must win
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ciphertexts[n], errs[n] = vault.Encrypt("SecretMessage")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("Worker %d encrypt failed: %v", i, errs[i])
		}
		plaintext, err := vault.Decrypt(context.Background(), ciphertexts[i])
		if err != nil {
			t.Fatalf("Worker %d ciphertext does not decrypt: %v", i, err)
		}
		if plaintext != "SecretMessage" {
			t.Errorf("Worker %d round trip mismatch: %q", i, plaintext)
		}
	}
}

func TestErrorCodeTaxonomy(t *testing.T) {
	err := newError(ErrCodeMalformedInput, "decrypt", errors.New("boom"))

	if CodeOf(err) != ErrCodeMalformedInput {
		t.Errorf("CodeOf returned %s", CodeOf(err))
	}
	if err.Description() == "" {
		t.Error("Description is empty")
	}
	if !strings.Contains(err.Error(), "decrypt") {
		t.Errorf("Error text does not name the operation: %s", err.Error())
	}

	// Foreign errors report unknown
	if CodeOf(errors.New("foreign")) != ErrCodeUnknown {
		t.Error("Foreign error did not map to unknown code")
	}
}
