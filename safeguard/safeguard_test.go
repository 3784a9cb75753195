package safeguard

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret([]byte("short")); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("err = %v, want ErrSecretTooShort", err)
	}
	if err := ValidateSecret(bytes.Repeat([]byte("a"), MinSecretLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStoreURL(t *testing.T) {
	tests := []struct {
		url          string
		allowPrivate bool
		wantErr      bool
	}{
		{"https://store.example.com", false, false},
		{"http://203.0.113.10:8787", false, false},
		{"ftp://store.example.com", false, true},
		{"javascript:alert(1)", false, true},
		{"https://", false, true},
		{"http://127.0.0.1:8787", false, true},
		{"http://10.0.0.5:8787", false, true},
		{"http://192.168.1.20", false, true},
		{"http://[::1]:8787", false, true},
		{"http://127.0.0.1:8787", true, false},
		{"http://192.168.1.20", true, false},
	}
	for _, tt := range tests {
		err := ValidateStoreURL(tt.url, tt.allowPrivate)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateStoreURL(%q, %v) error=%v, wantErr=%v", tt.url, tt.allowPrivate, err, tt.wantErr)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("cred_01K2-abc.v7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateIdentifier(""); err == nil {
		t.Fatal("expected error for empty identifier")
	}
	if err := ValidateIdentifier("../etc/passwd"); err == nil {
		t.Fatal("expected error for path separators")
	}
	if err := ValidateIdentifier("has space"); err == nil {
		t.Fatal("expected error for spaces")
	}
	if err := ValidateIdentifier(strings.Repeat("a", 257)); err == nil {
		t.Fatal("expected error for long identifier")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("read %d bytes, want 100", len(got))
	}
	if _, err := LimitedReadAll(strings.NewReader(data), 50); err == nil {
		t.Fatal("expected error for oversized read")
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"203.0.113.10", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("failed to parse IP %q", tt.ip)
		}
		if got := isPrivateIP(ip); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
