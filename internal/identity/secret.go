package identity

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// SecretProtector encrypts and decrypts the bearer token for at-rest
// storage. A deployment may supply an OS-scoped implementation (Windows
// DPAPI, macOS Keychain, Linux kernel keyring); MachineKeyProtector below
// is the portable software fallback.
type SecretProtector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// ErrDecryptFailed is returned when ciphertext cannot be authenticated;
// either it was protected under a different key or it has been tampered
// with.
var ErrDecryptFailed = errors.New("identity: failed to decrypt token")

const nonceSize = 24

// MachineKeyProtector is a software-only SecretProtector using NaCl
// secretbox (XSalsa20-Poly1305 authenticated encryption) under a
// machine-scoped key. It is the fallback used when no OS-specific secret
// store is wired in.
type MachineKeyProtector struct {
	key [32]byte
}

// NewMachineKeyProtector derives a protector from a 32-byte key. Callers
// are expected to source the key from a machine-scoped secret (e.g. a
// key file under the data directory with restrictive permissions,
// provisioned once at install time); key derivation/storage of the key
// itself is outside this package's concern.
func NewMachineKeyProtector(key [32]byte) *MachineKeyProtector {
	return &MachineKeyProtector{key: key}
}

func (p *MachineKeyProtector) Protect(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("identity: failed to generate nonce: %w", err)
	}
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &p.key), nil
}

func (p *MachineKeyProtector) Unprotect(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &p.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
