package icrypto

import (
	"bytes"
	"testing"

	"github.com/jmcleod/ironpass/internal/util"
)

func TestAAD(t *testing.T) {
	aad1 := AADRecipientWrap("0123456789ABCDEF", 1)
	aad2 := AADRecipientWrap("0123456789ABCDEF", 1)
	if !bytes.Equal(aad1, aad2) {
		t.Error("AADRecipientWrap should be deterministic")
	}

	aad3 := AADRecipientWrap("FEDCBA9876543210", 1)
	if bytes.Equal(aad1, aad3) {
		t.Error("AADRecipientWrap should differ for different key ids")
	}

	body1 := AADBody(1, []string{"A", "B"})
	body2 := AADBody(1, []string{"AB"})
	if bytes.Equal(body1, body2) {
		t.Error("AADBody must length-prefix recipients")
	}

	if bytes.Equal(AADLockedKey("F1", 1), AADRecipientWrap("F1", 1)) {
		t.Error("AAD domains must not collide")
	}
}

func TestRecipientWrap(t *testing.T) {
	kp, _ := util.GenerateX25519Keypair()
	dataKey := []byte("this-is-a-32-byte-key-0123456789")
	aad := []byte("some-aad")

	wrap, err := SealToRecipient(kp.Public, dataKey, aad)
	if err != nil {
		t.Fatalf("SealToRecipient failed: %v", err)
	}
	if wrap.Ver != 1 {
		t.Errorf("expected version 1, got %d", wrap.Ver)
	}

	opened, err := OpenFromRecipient(kp.Private, wrap, aad)
	if err != nil {
		t.Fatalf("OpenFromRecipient failed: %v", err)
	}
	if !bytes.Equal(dataKey, opened) {
		t.Errorf("expected %x, got %x", dataKey, opened)
	}

	t.Run("WrongRecipient", func(t *testing.T) {
		other, _ := util.GenerateX25519Keypair()
		if _, err := OpenFromRecipient(other.Private, wrap, aad); err == nil {
			t.Error("expected error opening with a different private key")
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		if _, err := OpenFromRecipient(kp.Private, wrap, []byte("wrong-aad")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCiphertext", func(t *testing.T) {
		wrapCopy := *wrap
		wrapCopy.Ciphertext = bytes.Clone(wrap.Ciphertext)
		wrapCopy.Ciphertext[0] ^= 0xFF
		if _, err := OpenFromRecipient(kp.Private, &wrapCopy, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		wrapCopy := *wrap
		wrapCopy.Ver = 2
		if _, err := OpenFromRecipient(kp.Private, &wrapCopy, aad); err == nil {
			t.Error("expected error for unsupported version")
		}
	})
}
