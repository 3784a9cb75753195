package storesrv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"github.com/ravi-ivar-7/choco-sub000/safeguard"
)

// vaultSalt is a fixed derivation salt. The vault key itself is the secret;
// the salt only separates this deployment's key space from other scrypt
// users of the same passphrase.
var vaultSalt = []byte("choco-store-vault-v1")

// Vault encrypts snapshot payloads at rest with AES-256-GCM. Session
// cookies are bearer credentials; the database file alone must not be
// enough to steal them.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the AEAD key from the operator-supplied vault key via
// scrypt.
func NewVault(key []byte) (*Vault, error) {
	if err := safeguard.ValidateSecret(key); err != nil {
		return nil, fmt.Errorf("storesrv: vault key: %w", err)
	}
	derived, err := scrypt.Key(key, vaultSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("storesrv: derive vault key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("storesrv: vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storesrv: vault gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext; the nonce is prepended to the ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("storesrv: vault nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal output.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("storesrv: sealed payload too short")
	}
	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("storesrv: vault open: %w", err)
	}
	return plaintext, nil
}
