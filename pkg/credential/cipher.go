// Package credential resolves and decrypts device credentials.
package credential

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher seals and opens credential secrets at rest. The concrete
// primitive is injected so deployments can substitute a KMS-backed
// implementation.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

const (
	keySize   = 32
	nonceSize = 24
)

// SecretboxCipher seals secrets with NaCl secretbox using a static
// 32-byte key. The nonce is prepended to the ciphertext.
type SecretboxCipher struct {
	key [keySize]byte
}

// NewSecretboxCipher creates a cipher from a 32-byte key.
func NewSecretboxCipher(key []byte) (*SecretboxCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", keySize, len(key))
	}
	c := &SecretboxCipher{}
	copy(c.key[:], key)
	return c, nil
}

// Seal encrypts plaintext with a random nonce.
func (c *SecretboxCipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Open decrypts a sealed secret.
func (c *SecretboxCipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("credential decryption failed")
	}
	return plaintext, nil
}
