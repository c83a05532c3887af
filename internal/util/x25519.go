package util

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is an X25519 key pair with a clamped private scalar.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// Wipe zeroes the private scalar.
func (k *KeyPair) Wipe() {
	WipeArray32(&k.Private)
}

func GenerateX25519Keypair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generating X25519 private key: %w", err)
	}
	clamp(&kp.Private)
	kp.Public = PublicFromPrivate(kp.Private)
	return kp, nil
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// PublicFromPrivate recomputes the public half of an X25519 key.
func PublicFromPrivate(priv [32]byte) [32]byte {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub
}

// SharedSecret runs X25519. Low-order public keys, which would yield an all
// zero secret, are rejected.
func SharedSecret(priv, pub [32]byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return shared, fmt.Errorf("deriving shared secret: %w", err)
	}
	copy(shared[:], out)
	WipeBytes(out)
	return shared, nil
}
