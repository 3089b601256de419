package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStaticGates(t *testing.T) {
	ctx := context.Background()

	if err := NewAllowAll().Authorize(ctx, "test"); err != nil {
		t.Errorf("Allow-all gate declined: %v", err)
	}

	err := NewDenyAll().Authorize(ctx, "test")
	if !errors.Is(err, ErrDeclined) {
		t.Errorf("Deny-all gate returned %v, want ErrDeclined", err)
	}
}

func TestStaticGateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Even the allow-all gate fails once the context is gone
	err := NewAllowAll().Authorize(ctx, "test")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPromptGate(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		allowed bool
	}{
		{"Yes", "y\n", true},
		{"YesWord", "yes\n", true},
		{"YesUpper", "Y\n", true},
		{"No", "n\n", false},
		{"Empty", "\n", false},
		{"Garbage", "whatever\n", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out strings.Builder
			gate := NewPromptGate(strings.NewReader(tc.input), &out)

			err := gate.Authorize(context.Background(), "Unlock the key")
			if tc.allowed && err != nil {
				t.Errorf("Expected approval, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrDeclined) {
				t.Errorf("Expected ErrDeclined, got %v", err)
			}

			// The reason must reach the user
			if !strings.Contains(out.String(), "Unlock the key") {
				t.Error("Prompt did not include the reason")
			}
		})
	}
}

func TestPromptGateClosedInput(t *testing.T) {
	gate := NewPromptGate(strings.NewReader(""), &strings.Builder{})

	err := gate.Authorize(context.Background(), "test")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable on closed input, got %v", err)
	}
}

func TestPromptGateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	gate := NewPromptGate(strings.NewReader("y\n"), &out)

	if err := gate.Authorize(ctx, "test"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if out.Len() != 0 {
		t.Error("Challenge was presented despite cancelled context")
	}
}
