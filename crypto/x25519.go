package crypto

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/ironpass/internal/crypto"
	"github.com/jmcleod/ironpass/internal/util"
)

const (
	envelopeVersion  = 1
	lockedKeyVersion = 1
)

type envelope struct {
	Ver        int             `json:"ver"`
	Recipients []recipientWrap `json:"recipients"`
	Body       []byte          `json:"body"`
}

type recipientWrap struct {
	KeyID string              `json:"key_id"`
	Wrap  *icrypto.SealedWrap `json:"wrap"`
}

func (e *envelope) keyIDs() []string {
	ids := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		ids[i] = r.KeyID
	}
	return ids
}

func parseEnvelope(ciphertext []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(ciphertext, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if env.Ver != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedCiphertext, env.Ver)
	}
	if len(env.Recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrMalformedCiphertext)
	}
	return &env, nil
}

// X25519 is the default Provider. Each secret body is sealed with a random
// AES-256-GCM data key, and the data key is sealed to every recipient with
// ephemeral X25519 + HKDF.
type X25519 struct{}

var _ Provider = X25519{}

// NewX25519 returns the X25519 provider.
func NewX25519() X25519 {
	return X25519{}
}

func (X25519) Encrypt(plaintext []byte, recipients []PublicKey) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	dataKey, err := util.NewDataKey()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(dataKey)

	env := envelope{Ver: envelopeVersion}
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		id := r.Fingerprint().Canonical()
		if seen[id] {
			continue
		}
		seen[id] = true
		wrap, err := icrypto.SealToRecipient(r.Key, dataKey, icrypto.AADRecipientWrap(id, envelopeVersion))
		if err != nil {
			return nil, fmt.Errorf("sealing data key to %s: %w", r.ShortID(), err)
		}
		env.Recipients = append(env.Recipients, recipientWrap{KeyID: id, Wrap: wrap})
	}

	env.Body, err = util.SealAESGCM(plaintext, dataKey, icrypto.AADBody(envelopeVersion, env.keyIDs()))
	if err != nil {
		return nil, fmt.Errorf("sealing body: %w", err)
	}
	return json.Marshal(env)
}

func (X25519) Decrypt(ciphertext []byte, key PrivateKey) ([]byte, error) {
	priv, ok := key.(*x25519PrivateKey)
	if !ok || priv == nil {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	env, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	fp := priv.Fingerprint()
	var wrap *icrypto.SealedWrap
	for _, r := range env.Recipients {
		if KeyID(r.KeyID).Equal(fp) {
			wrap = r.Wrap
			break
		}
	}
	if wrap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRecipient, fp.ShortID())
	}

	var dataKey []byte
	err = priv.with(func(raw *[32]byte) error {
		var err error
		dataKey, err = icrypto.OpenFromRecipient(*raw, wrap, icrypto.AADRecipientWrap(fp.Canonical(), envelopeVersion))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening data key: %w", err)
	}
	defer util.WipeBytes(dataKey)

	plaintext, err := util.OpenAESGCM(env.Body, dataKey, icrypto.AADBody(env.Ver, env.keyIDs()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

func (X25519) KeyIDsOf(ciphertext []byte) ([]KeyID, error) {
	env, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	ids := make([]KeyID, len(env.Recipients))
	for i, r := range env.Recipients {
		ids[i] = KeyID(r.KeyID)
	}
	return ids, nil
}

func (X25519) Unlock(locked LockedKey, passphrase string) (PrivateKey, error) {
	if locked.Ver != lockedKeyVersion {
		return nil, fmt.Errorf("unsupported locked key version: %d", locked.Ver)
	}
	kek, err := util.DeriveArgon2idKey(passphrase, locked.Salt, locked.Params)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(kek)

	fp := locked.Fingerprint()
	raw, err := util.OpenAESGCM(locked.Sealed, kek, icrypto.AADLockedKey(fp.Canonical(), locked.Ver))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	if len(raw) != 32 {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("locked key %s: invalid private key length", fp.ShortID())
	}

	var priv [32]byte
	copy(priv[:], raw)
	util.WipeBytes(raw)
	defer util.WipeArray32(&priv)
	if util.PublicFromPrivate(priv) != locked.Public.Key {
		return nil, fmt.Errorf("locked key %s: private key does not match public key", fp.ShortID())
	}

	return &x25519PrivateKey{
		fingerprint: fp,
		enclave:     memguard.NewEnclave(priv[:]),
	}, nil
}

func lockPrivateKey(pub PublicKey, priv [32]byte, passphrase string, params Argon2idParams) (LockedKey, error) {
	salt, err := util.RandomBytes(32)
	if err != nil {
		return LockedKey{}, err
	}
	kek, err := util.DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return LockedKey{}, err
	}
	defer util.WipeBytes(kek)

	sealed, err := util.SealAESGCM(priv[:], kek, icrypto.AADLockedKey(pub.Fingerprint().Canonical(), lockedKeyVersion))
	if err != nil {
		return LockedKey{}, fmt.Errorf("locking private key: %w", err)
	}
	return LockedKey{
		Ver:    lockedKeyVersion,
		Public: pub,
		Params: params,
		Salt:   salt,
		Sealed: sealed,
	}, nil
}

// x25519PrivateKey keeps the scalar in a memguard enclave; it is only
// decrypted into a locked buffer for the duration of a single operation.
type x25519PrivateKey struct {
	fingerprint KeyID

	mu      sync.Mutex
	enclave *memguard.Enclave
}

func (k *x25519PrivateKey) Fingerprint() KeyID {
	return k.fingerprint
}

func (k *x25519PrivateKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

func (k *x25519PrivateKey) with(fn func(raw *[32]byte) error) error {
	k.mu.Lock()
	enclave := k.enclave
	k.mu.Unlock()
	if enclave == nil {
		return ErrKeyDestroyed
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	var raw [32]byte
	copy(raw[:], buf.Bytes())
	defer util.WipeArray32(&raw)
	return fn(&raw)
}
