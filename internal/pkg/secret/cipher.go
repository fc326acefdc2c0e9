package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const (
	nonceSize = 12
	tagSize   = 16
	separator = "."
)

var (
	// ErrDecryption is returned for any envelope that cannot be authenticated.
	// The cause is never more specific so callers cannot be used as an oracle.
	ErrDecryption = errors.New("secret: decryption failed")
	// ErrInvalidKeyLength is returned when the key is not exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("secret: invalid key length")
	// ErrEmptyPlaintext is returned when asked to encrypt an empty value.
	ErrEmptyPlaintext = errors.New("secret: plaintext cannot be empty")
)

var b64 = base64.RawURLEncoding

// Cipher encrypts small values for storage at rest with AES-256-GCM.
// The envelope is "nonce.ciphertext.tag", each part base64url without padding.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKeyLength, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return strings.Join([]string{b64.EncodeToString(nonce), b64.EncodeToString(ct), b64.EncodeToString(tag)}, separator), nil
}

// Decrypt opens an envelope produced by Encrypt. Every failure returns ErrDecryption.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, separator)
	if len(parts) != 3 {
		return "", ErrDecryption
	}
	nonce, err := b64.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrDecryption
	}
	ct, err := b64.DecodeString(parts[1])
	if err != nil || len(ct) == 0 {
		return "", ErrDecryption
	}
	tag, err := b64.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", ErrDecryption
	}
	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}
