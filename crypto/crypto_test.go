package crypto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironpass/storage/memory"
)

func newTestKey(t *testing.T, name, passphrase string) (PublicKey, LockedKey) {
	t.Helper()
	pub, locked, err := GenerateKey(name, passphrase, WithArgon2idParams(InteractiveArgon2idParams()))
	require.NoError(t, err)
	return pub, locked
}

func unlockTestKey(t *testing.T, locked LockedKey, passphrase string) PrivateKey {
	t.Helper()
	priv, err := NewX25519().Unlock(locked, passphrase)
	require.NoError(t, err)
	t.Cleanup(priv.Destroy)
	return priv
}

func TestKeyID_Canonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcdef0123456789", "ABCDEF0123456789"},
		{"0xabcdef0123456789", "ABCDEF0123456789"},
		{" ABCD EF01 2345 6789 ", "ABCDEF0123456789"},
		{"alice@example.com", "alice@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyID(tt.in).Canonical(), tt.in)
	}
	assert.True(t, KeyID("abcdef0123456789").Equal("0xABCDEF0123456789"))
	assert.False(t, KeyID("alice@example.com").IsHex())
}

func TestKeyID_Matches(t *testing.T) {
	pub, _ := newTestKey(t, "Alice <alice@example.com>", "pw")
	fp := pub.Fingerprint()

	assert.Len(t, fp.Canonical(), 40)
	assert.True(t, fp.Matches(fp))
	assert.True(t, pub.ShortID().Matches(fp))
	assert.False(t, KeyID("0000000000000000").Matches(fp))
}

func TestRecipientSet(t *testing.T) {
	set := NewRecipientSet("aaaa", "BBBB", "AAAA", "")
	assert.Equal(t, RecipientSet{"AAAA", "BBBB"}, set)
	assert.Equal(t, "AAAA BBBB", set.String())

	t.Run("EqualIgnoresOrder", func(t *testing.T) {
		assert.True(t, set.Equal(RecipientSet{"BBBB", "AAAA"}))
		assert.False(t, set.Equal(RecipientSet{"AAAA"}))
		assert.False(t, set.Equal(RecipientSet{"AAAA", "CCCC"}))
	})

	t.Run("Parse", func(t *testing.T) {
		parsed := ParseRecipientSet("AAAA\nbbbb  cccc\n")
		assert.Equal(t, RecipientSet{"AAAA", "BBBB", "CCCC"}, parsed)
		assert.Empty(t, ParseRecipientSet("  \n"))
	})
}

func TestX25519_RoundTrip(t *testing.T) {
	p := NewX25519()
	alice, aliceLocked := newTestKey(t, "alice", "alice-pw")
	bob, bobLocked := newTestKey(t, "bob", "bob-pw")
	_, carolLocked := newTestKey(t, "carol", "carol-pw")

	ct, err := p.Encrypt([]byte("s3cr3t"), []PublicKey{alice, bob})
	require.NoError(t, err)

	for _, locked := range []LockedKey{aliceLocked, bobLocked} {
		pt, err := p.Decrypt(ct, unlockTestKey(t, locked, locked.Public.Name+"-pw"))
		require.NoError(t, err)
		assert.Equal(t, []byte("s3cr3t"), pt)
	}

	_, err = p.Decrypt(ct, unlockTestKey(t, carolLocked, "carol-pw"))
	require.ErrorIs(t, err, ErrNotRecipient)

	ids, err := p.KeyIDsOf(ct)
	require.NoError(t, err)
	assert.Equal(t, []KeyID{alice.Fingerprint(), bob.Fingerprint()}, ids)
}

func TestX25519_EncryptErrors(t *testing.T) {
	_, err := NewX25519().Encrypt([]byte("x"), nil)
	require.ErrorIs(t, err, ErrNoRecipients)

	_, err = NewX25519().KeyIDsOf([]byte("not json"))
	require.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestX25519_TamperedBody(t *testing.T) {
	p := NewX25519()
	alice, locked := newTestKey(t, "alice", "pw")
	priv := unlockTestKey(t, locked, "pw")

	ct, err := p.Encrypt([]byte("s3cr3t"), []PublicKey{alice})
	require.NoError(t, err)

	env, err := parseEnvelope(ct)
	require.NoError(t, err)
	env.Body[len(env.Body)-1] ^= 0xFF
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = p.Decrypt(tampered, priv)
	require.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestX25519_Unlock(t *testing.T) {
	p := NewX25519()
	_, locked := newTestKey(t, "alice", "correct horse")

	_, err := p.Unlock(locked, "wrong")
	require.ErrorIs(t, err, ErrWrongPassphrase)

	priv, err := p.Unlock(locked, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, locked.Fingerprint(), priv.Fingerprint())
}

func TestX25519_DestroyedKey(t *testing.T) {
	p := NewX25519()
	alice, locked := newTestKey(t, "alice", "pw")
	priv := unlockTestKey(t, locked, "pw")

	ct, err := p.Encrypt([]byte("s3cr3t"), []PublicKey{alice})
	require.NoError(t, err)

	priv.Destroy()
	_, err = p.Decrypt(ct, priv)
	require.ErrorIs(t, err, ErrKeyDestroyed)
}

func TestArmor(t *testing.T) {
	pub, locked := newTestKey(t, "Alice <alice@example.com>", "pw")

	armoredPub, err := ArmorPublicKey(pub)
	require.NoError(t, err)
	armoredLocked, err := ArmorLockedKey(locked)
	require.NoError(t, err)
	assert.Contains(t, string(armoredPub), "BEGIN IRONPASS PUBLIC KEY")

	pubs, lockedKeys, err := Dearmor(append(armoredPub, armoredLocked...))
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	require.Len(t, lockedKeys, 1)
	assert.Equal(t, pub, pubs[0])

	_, err = NewX25519().Unlock(lockedKeys[0], "pw")
	require.NoError(t, err)

	_, _, err = Dearmor([]byte("garbage"))
	require.ErrorIs(t, err, ErrNoArmoredKey)
}

func TestKeyring_Lookup(t *testing.T) {
	alice, aliceLocked := newTestKey(t, "Alice <alice@example.com>", "pw")
	bob, _ := newTestKey(t, "Bob <bob@example.com>", "pw")

	kr := NewKeyring()
	require.NoError(t, kr.ImportLocked(aliceLocked))
	require.NoError(t, kr.ImportPublic(bob))

	got, err := kr.Lookup(alice.ShortID())
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	got, err = kr.Lookup("bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	_, err = kr.Lookup("0123456789ABCDEF")
	require.ErrorIs(t, err, ErrUnknownRecipient)

	_, err = kr.PublicKeys(RecipientSet{alice.ShortID(), "nobody@example.com"})
	require.ErrorIs(t, err, ErrUnknownRecipient)

	_, err = kr.Locked(bob.Fingerprint())
	require.ErrorIs(t, err, ErrNoPrivateKey)
	assert.True(t, kr.HasPrivate(alice.Fingerprint()))
	assert.Len(t, kr.List(), 2)
}

func TestKeyring_Persistence(t *testing.T) {
	repo := memory.NewRepository()
	alice, aliceLocked := newTestKey(t, "alice", "pw")
	bob, _ := newTestKey(t, "bob", "pw")

	kr := NewKeyring(WithRepository(repo))
	require.NoError(t, kr.ImportLocked(aliceLocked))
	require.NoError(t, kr.ImportPublic(bob))

	reloaded := NewKeyring(WithRepository(repo))
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.List(), 2)

	locked, err := reloaded.Locked(alice.ShortID())
	require.NoError(t, err)
	_, err = NewX25519().Unlock(locked, "pw")
	require.NoError(t, err)

	require.NoError(t, reloaded.Remove(bob.ShortID()))
	again := NewKeyring(WithRepository(repo))
	require.NoError(t, again.Load())
	_, err = again.Lookup(bob.Fingerprint())
	assert.True(t, errors.Is(err, ErrUnknownRecipient))
}
