package storesrv

import (
	"bytes"
	"strings"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t)
	plain := []byte(`{"cookies":{"access_token":{"value":"secret"}}}`)

	sealed, err := v.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("secret")) {
		t.Fatal("sealed payload leaks plaintext")
	}

	got, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestVaultRejectsTampering(t *testing.T) {
	v := testVault(t)
	sealed, err := v.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := v.Open(sealed); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
	if _, err := v.Open([]byte("short")); err == nil {
		t.Fatal("truncated ciphertext accepted")
	}
}

func TestVaultRejectsShortKey(t *testing.T) {
	if _, err := NewVault([]byte("short")); err == nil {
		t.Fatal("expected error for short vault key")
	}
}

func TestVaultNoncesDiffer(t *testing.T) {
	v := testVault(t)
	a, err := v.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Seal([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("sealing the same plaintext twice produced identical output")
	}
}
