// Package safeguard holds the security primitives shared by the agent and
// the store: secret strength checks, store-URL vetting, identifier
// sanitation and bounded reads.
package safeguard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets (JWT
// HS256 signing keys, vault keys). 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// MaxResponseBody caps store response body reads (4 MiB; snapshots carrying
// fingerprint blobs can be chunky but never this chunky).
const MaxResponseBody int64 = 4 << 20

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("safeguard: secret must be at least %d bytes", MinSecretLen)

// ErrPrivateAddress is returned when a URL targets a private/loopback
// address and the caller did not opt in to that.
var ErrPrivateAddress = errors.New("safeguard: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("safeguard: only http and https schemes are allowed")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateStoreURL checks that rawURL is a plausible snapshot-store endpoint:
// http/https with a hostname. Unless allowPrivate is set (self-hosted stores
// on a LAN are a supported deployment), addresses resolving to private or
// loopback ranges are rejected.
func ValidateStoreURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safeguard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("safeguard: URL has no host")
	}
	if allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateAddress
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// unresolvable now may resolve later; the dial will fail loudly
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrPrivateAddress
		}
	}
	return nil
}

// ValidateIdentifier rejects team/site/credential identifiers with
// characters unsuitable for SQL, file names, or URL path segments.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("safeguard: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("safeguard: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safeguard: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and errors past the limit.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safeguard: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified()
}
