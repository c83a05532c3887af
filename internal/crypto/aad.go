package icrypto

import (
	"encoding/binary"
)

const (
	aadBody          = "BODY"
	aadRecipientWrap = "RCPTWRAP"
	aadLockedKey     = "LOCKEDKEY"
)

// AADBody binds a secret body to the envelope version and its recipient list.
func AADBody(ver int, recipients []string) []byte {
	parts := []any{aadBody, ver}
	for _, r := range recipients {
		parts = append(parts, r)
	}
	return buildAAD(parts...)
}

// AADRecipientWrap binds a wrapped data key to the recipient it was sealed for.
func AADRecipientWrap(keyID string, ver int) []byte {
	return buildAAD(aadRecipientWrap, keyID, ver)
}

// AADLockedKey binds a passphrase-locked private key to its fingerprint.
func AADLockedKey(fingerprint string, ver int) []byte {
	return buildAAD(aadLockedKey, fingerprint, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
