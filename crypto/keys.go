package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jmcleod/ironpass/internal/util"
)

// Argon2idParams configures the passphrase stretching of locked private keys.
type Argon2idParams = util.Argon2idParams

// DefaultArgon2idParams returns the parameters used for newly generated keys.
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

// InteractiveArgon2idParams returns fast parameters for tests and throwaway keys.
func InteractiveArgon2idParams() Argon2idParams {
	return util.InteractiveArgon2idParams()
}

const fingerprintLength = 20

// Fingerprint derives the full key id of an X25519 public key.
func Fingerprint(pub [32]byte) KeyID {
	sum := sha256.Sum256(pub[:])
	return KeyID(strings.ToUpper(hex.EncodeToString(sum[:fingerprintLength])))
}

// PublicKey is the public half of a recipient key pair.
type PublicKey struct {
	// Name is the user id, usually "Name <email>".
	Name string   `json:"name"`
	Key  [32]byte `json:"key"`
}

// Fingerprint returns the full key id.
func (p PublicKey) Fingerprint() KeyID {
	return Fingerprint(p.Key)
}

// ShortID returns the 16-hex short key id.
func (p PublicKey) ShortID() KeyID {
	return p.Fingerprint().ShortID()
}

func (p PublicKey) String() string {
	if p.Name == "" {
		return p.ShortID().String()
	}
	return fmt.Sprintf("%s %s", p.ShortID(), p.Name)
}

// LockedKey is a private key encrypted under a passphrase-derived key.
// It is safe to persist; it never holds unlocked key material.
type LockedKey struct {
	Ver    int            `json:"ver"`
	Public PublicKey      `json:"public"`
	Params Argon2idParams `json:"params"`
	Salt   []byte         `json:"salt"`
	Sealed []byte         `json:"sealed"`
}

// Fingerprint returns the full key id of the key pair.
func (l LockedKey) Fingerprint() KeyID {
	return l.Public.Fingerprint()
}

// PrivateKey is an unlocked private key handle. Handles are owned by the
// key cache and destroyed on eviction; a destroyed handle fails every
// decryption with ErrKeyDestroyed.
type PrivateKey interface {
	Fingerprint() KeyID
	Destroy()
}

// GenerateOption configures key generation.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	params Argon2idParams
}

// WithArgon2idParams overrides the passphrase stretching parameters.
func WithArgon2idParams(p Argon2idParams) GenerateOption {
	return func(o *generateOptions) {
		o.params = p
	}
}

// GenerateKey creates a new X25519 key pair and returns its public half
// together with the private half locked under passphrase.
func GenerateKey(name, passphrase string, opts ...GenerateOption) (PublicKey, LockedKey, error) {
	o := generateOptions{params: DefaultArgon2idParams()}
	for _, opt := range opts {
		opt(&o)
	}

	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return PublicKey{}, LockedKey{}, err
	}
	defer kp.Wipe()

	pub := PublicKey{Name: name, Key: kp.Public}
	locked, err := lockPrivateKey(pub, kp.Private, passphrase, o.params)
	if err != nil {
		return PublicKey{}, LockedKey{}, err
	}
	return pub, locked, nil
}
