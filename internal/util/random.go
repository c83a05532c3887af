package util

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// NewDataKey returns a fresh AES-256 key for sealing one password file.
func NewDataKey() ([]byte, error) {
	key, err := RandomBytes(AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	return key, nil
}
