package util

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	AESKeySize = 32
	// GCMNonceSize is the nonce length prepended to every sealed payload.
	GCMNonceSize = 12
)

var errShortCiphertext = errors.New("ciphertext shorter than nonce and tag")

// newGCM returns an AES-256-GCM AEAD that draws a random nonce on every
// Seal and prepends it to the output.
func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCMWithRandomNonce(block)
}

// SealAESGCM encrypts plainText under rawKey and returns nonce || ciphertext.
func SealAESGCM(plainText, rawKey, aad []byte) ([]byte, error) {
	aead, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nil, plainText, aad), nil
}

// OpenAESGCM reverses SealAESGCM.
func OpenAESGCM(sealed, rawKey, aad []byte) ([]byte, error) {
	aead, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.Overhead() {
		return nil, errShortCiphertext
	}
	plainText, err := aead.Open(nil, nil, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}
