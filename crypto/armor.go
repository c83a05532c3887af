package crypto

import (
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	pemPublicKey = "IRONPASS PUBLIC KEY"
	pemLockedKey = "IRONPASS LOCKED PRIVATE KEY"
)

// ErrNoArmoredKey indicates the input held no recognizable armored block.
var ErrNoArmoredKey = errors.New("no armored key found")

// ArmorPublicKey encodes a public key as a PEM block.
func ArmorPublicKey(pub PublicKey) ([]byte, error) {
	return armor(pemPublicKey, pub.Fingerprint(), pub)
}

// ArmorLockedKey encodes a locked private key as a PEM block.
func ArmorLockedKey(locked LockedKey) ([]byte, error) {
	return armor(pemLockedKey, locked.Fingerprint(), locked)
}

func armor(blockType string, fp KeyID, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", blockType, err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:    blockType,
		Headers: map[string]string{"Fingerprint": fp.Canonical()},
		Bytes:   body,
	}), nil
}

// Dearmor decodes every armored block in data. Locked keys also contribute
// their public half to the returned public keys.
func Dearmor(data []byte) ([]PublicKey, []LockedKey, error) {
	var (
		pubs   []PublicKey
		locked []LockedKey
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case pemPublicKey:
			var pub PublicKey
			if err := json.Unmarshal(block.Bytes, &pub); err != nil {
				return nil, nil, fmt.Errorf("decoding public key: %w", err)
			}
			pubs = append(pubs, pub)
		case pemLockedKey:
			var lk LockedKey
			if err := json.Unmarshal(block.Bytes, &lk); err != nil {
				return nil, nil, fmt.Errorf("decoding locked key: %w", err)
			}
			locked = append(locked, lk)
			pubs = append(pubs, lk.Public)
		}
	}
	if len(pubs) == 0 {
		return nil, nil, ErrNoArmoredKey
	}
	return pubs, locked, nil
}
