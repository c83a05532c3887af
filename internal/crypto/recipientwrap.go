package icrypto

import (
	"fmt"

	"github.com/jmcleod/ironpass/internal/util"
)

var recipientWrapInfo = []byte("ironpass:recipient-wrap:v1")

// SealedWrap holds a data key sealed to one recipient's X25519 public key.
type SealedWrap struct {
	Ver        int      `json:"ver"`
	EphPub     [32]byte `json:"eph_pub"`
	Salt       []byte   `json:"salt"`
	Nonce      []byte   `json:"nonce"`
	Ciphertext []byte   `json:"ciphertext"`
}

// SealToRecipient encrypts a data key to a recipient's X25519 public key using
// ephemeral ECDH + HKDF + AES-256-GCM.
func SealToRecipient(recipientPub [32]byte, dataKey []byte, aad []byte) (*SealedWrap, error) {
	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	shared, err := util.SharedSecret(kp.Private, recipientPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	salt, err := util.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	wrapKey, err := util.HKDF(shared[:], salt, recipientWrapInfo)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	sealed, err := util.SealAESGCM(dataKey, wrapKey, aad)
	if err != nil {
		return nil, err
	}

	return &SealedWrap{
		Ver:        1,
		EphPub:     kp.Public,
		Salt:       salt,
		Nonce:      sealed[:util.GCMNonceSize],
		Ciphertext: sealed[util.GCMNonceSize:],
	}, nil
}

// OpenFromRecipient recovers the data key using the recipient's X25519 private key.
func OpenFromRecipient(recipientPriv [32]byte, wrap *SealedWrap, aad []byte) ([]byte, error) {
	if wrap == nil {
		return nil, fmt.Errorf("missing sealed wrap")
	}
	if wrap.Ver != 1 {
		return nil, fmt.Errorf("unsupported sealed wrap version: %d", wrap.Ver)
	}

	shared, err := util.SharedSecret(recipientPriv, wrap.EphPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	wrapKey, err := util.HKDF(shared[:], wrap.Salt, recipientWrapInfo)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	// Reconstruct nonce || ciphertext without mutating wrap fields.
	full := make([]byte, 0, len(wrap.Nonce)+len(wrap.Ciphertext))
	full = append(full, wrap.Nonce...)
	full = append(full, wrap.Ciphertext...)

	return util.OpenAESGCM(full, wrapKey, aad)
}
