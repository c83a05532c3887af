package util

import (
	"bytes"
	"testing"
)

func TestAESGCM(t *testing.T) {
	key, _ := NewDataKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpen", func(t *testing.T) {
		sealed, err := SealAESGCM(plainText, key, aad)
		if err != nil {
			t.Fatalf("SealAESGCM failed: %v", err)
		}
		if len(sealed) <= GCMNonceSize {
			t.Fatalf("sealed payload too short: %d", len(sealed))
		}

		opened, err := OpenAESGCM(sealed, key, aad)
		if err != nil {
			t.Fatalf("OpenAESGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, opened) {
			t.Errorf("expected %s, got %s", plainText, opened)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		sealed, _ := SealAESGCM(plainText, key, aad)
		if _, err := OpenAESGCM(sealed, key, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		sealed, _ := SealAESGCM(plainText, key, aad)
		sealed[len(sealed)-1] ^= 0xFF
		if _, err := OpenAESGCM(sealed, key, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, err := SealAESGCM(plainText, []byte("too short"), aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectShortPayload", func(t *testing.T) {
		if _, err := OpenAESGCM([]byte("short"), key, aad); err == nil {
			t.Error("expected error with short payload, got nil")
		}
	})
}

func TestArgon2id(t *testing.T) {
	params := InteractiveArgon2idParams()
	salt := []byte("random salt")

	key, err := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DeriveArgon2idKey should be deterministic")
	}

	other, _ := DeriveArgon2idKey("wrong passphrase", salt, params)
	if bytes.Equal(key, other) {
		t.Error("different passphrases must derive different keys")
	}

	t.Run("NormalizesPassphrase", func(t *testing.T) {
		composed, _ := DeriveArgon2idKey("caf\u00e9", salt, params)
		decomposed, _ := DeriveArgon2idKey("cafe\u0301", salt, params)
		if !bytes.Equal(composed, decomposed) {
			t.Error("NFC and NFD forms of the same passphrase should derive the same key")
		}
	})

	t.Run("RejectBadParams", func(t *testing.T) {
		bad := params
		bad.KeyLen = 16
		if _, err := DeriveArgon2idKey("x", salt, bad); err == nil {
			t.Error("expected error for invalid key length")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")
	info := []byte("info")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("expected key length 32, got %d", len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestX25519(t *testing.T) {
	alice, err := GenerateX25519Keypair()
	if err != nil {
		t.Fatalf("GenerateX25519Keypair failed: %v", err)
	}
	bob, _ := GenerateX25519Keypair()

	if PublicFromPrivate(alice.Private) != alice.Public {
		t.Error("PublicFromPrivate should reproduce the generated public key")
	}

	s1, err := SharedSecret(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	s2, _ := SharedSecret(bob.Private, alice.Public)
	if s1 != s2 {
		t.Error("shared secrets should match")
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", b)
	}

	a := [32]byte{1, 2, 3}
	WipeArray32(&a)
	if a != [32]byte{} {
		t.Error("WipeArray32 should zero the array")
	}

	kp, err := GenerateX25519Keypair()
	if err != nil {
		t.Fatalf("GenerateX25519Keypair failed: %v", err)
	}
	kp.Wipe()
	if kp.Private != [32]byte{} {
		t.Error("KeyPair.Wipe should zero the private key")
	}
}

func TestSharedSecretRejectsLowOrderPoint(t *testing.T) {
	kp, _ := GenerateX25519Keypair()
	if _, err := SharedSecret(kp.Private, [32]byte{}); err == nil {
		t.Error("SharedSecret should reject the zero point")
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b, _ := RandomBytes(32)
	if len(a) != 32 || bytes.Equal(a, b) {
		t.Error("RandomBytes should return distinct buffers of the requested length")
	}

	key, err := NewDataKey()
	if err != nil {
		t.Fatalf("NewDataKey failed: %v", err)
	}
	if len(key) != AESKeySize {
		t.Errorf("expected data key length %d, got %d", AESKeySize, len(key))
	}
}
