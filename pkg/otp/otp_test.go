package otp

import (
	"strings"
	"testing"
	"time"
)

func TestCodeIsStableWithinStep(t *testing.T) {
	secret := "deadbeef"
	at := time.Unix(1700000000, 0)
	a := Code(secret, at)
	b := Code(secret, at.Add(5*time.Second))
	if a != b {
		t.Errorf("Code() changed within the same 30s step: %q vs %q", a, b)
	}
	if len(a) != digits {
		t.Errorf("Code() length = %d, want %d", len(a), digits)
	}
}

func TestCodeChangesAcrossStep(t *testing.T) {
	secret := "deadbeef"
	at := time.Unix(1700000000, 0)
	a := Code(secret, at)
	b := Code(secret, at.Add(31*time.Second))
	if a == b {
		t.Error("Code() did not change across a 30s step boundary")
	}
}

func TestGeneratePasswordLength(t *testing.T) {
	for _, n := range []int{0, 1, 8, 32} {
		pw, err := GeneratePassword(n, "abc")
		if err != nil {
			t.Fatalf("GeneratePassword(%d): %v", n, err)
		}
		if len(pw) != n {
			t.Errorf("GeneratePassword(%d) length = %d", n, len(pw))
		}
	}
}

func TestGeneratePasswordAlphabet(t *testing.T) {
	pw, err := GeneratePassword(100, "xy")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Trim(pw, "xy") != "" {
		t.Errorf("GeneratePassword() used characters outside the given alphabet: %q", pw)
	}
}

func TestGenerateSecretIsHex(t *testing.T) {
	secret, err := GenerateSecret(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret) != 16 {
		t.Errorf("GenerateSecret() length = %d, want 16", len(secret))
	}
	if strings.Trim(secret, "0123456789abcdef") != "" {
		t.Errorf("GenerateSecret() contains non-hex characters: %q", secret)
	}
}
