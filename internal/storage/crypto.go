package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope format: magic(8) + salt(16) + nonce(12) + ciphertext||tag.
// The key is derived per object with PBKDF2-SHA256.
const (
	envelopeMagic = "GCM3NCR0"
	envelopeIters = 100000

	saltLen  = 16
	nonceLen = 12
)

// IsEncrypted reports whether data starts with the envelope magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= len(envelopeMagic) && string(data[:len(envelopeMagic)]) == envelopeMagic
}

// Encrypt seals data under a passphrase-derived key.
func Encrypt(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(envelopeMagic)+saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, envelopeMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	header := len(envelopeMagic) + saltLen + nonceLen
	if len(data) < header+16 {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}
	if !IsEncrypted(data) {
		return nil, fmt.Errorf("missing envelope magic")
	}

	salt := data[len(envelopeMagic) : len(envelopeMagic)+saltLen]
	nonce := data[len(envelopeMagic)+saltLen : header]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[header:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, envelopeIters, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
