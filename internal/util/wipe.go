package util

import "github.com/awnumar/memguard"

// WipeBytes zeroes b in place.
func WipeBytes(b []byte) {
	memguard.WipeBytes(b)
}

// WipeArray32 zeroes a in place.
func WipeArray32(a *[32]byte) {
	memguard.WipeBytes(a[:])
}
