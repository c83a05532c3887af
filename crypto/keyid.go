package crypto

import (
	"slices"
	"strings"
)

// ShortIDLength is the length in hex characters of a short key id.
const ShortIDLength = 16

// KeyID identifies a key pair, either by its 16-hex short id or its full
// fingerprint. Two KeyIDs are equal iff their canonical forms match.
type KeyID string

// Canonical returns the upper-case hex form with any 0x prefix and spaces
// removed. Ids that are not hex, such as user ids, are only trimmed.
func (k KeyID) Canonical() string {
	s := strings.TrimSpace(string(k))
	h := strings.ReplaceAll(s, " ", "")
	if len(h) > 2 && (h[:2] == "0x" || h[:2] == "0X") {
		h = h[2:]
	}
	if isHex(h) {
		return strings.ToUpper(h)
	}
	return s
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func (k KeyID) String() string {
	return k.Canonical()
}

// Equal reports whether both ids have the same canonical form.
func (k KeyID) Equal(other KeyID) bool {
	return k.Canonical() == other.Canonical()
}

// IsHex reports whether the id looks like a short id or fingerprint rather
// than a user id such as an email address.
func (k KeyID) IsHex() bool {
	c := k.Canonical()
	return len(c) >= ShortIDLength && isHex(c)
}

// Matches reports whether k identifies the key with the given fingerprint,
// either as the full fingerprint or as its short-id suffix.
func (k KeyID) Matches(fingerprint KeyID) bool {
	c, fp := k.Canonical(), fingerprint.Canonical()
	if c == fp {
		return true
	}
	return len(c) == ShortIDLength && strings.HasSuffix(fp, c)
}

// ShortID returns the last 16 hex characters of a fingerprint.
func (k KeyID) ShortID() KeyID {
	c := k.Canonical()
	if len(c) <= ShortIDLength {
		return KeyID(c)
	}
	return KeyID(c[len(c)-ShortIDLength:])
}

// RecipientSet is the ordered, duplicate-free set of key ids a secret is
// encrypted to. Order is preserved for display but ignored by Equal.
type RecipientSet []KeyID

// NewRecipientSet builds a set from ids, dropping empties and duplicates
// while keeping first-seen order.
func NewRecipientSet(ids ...KeyID) RecipientSet {
	set := make(RecipientSet, 0, len(ids))
	for _, id := range ids {
		if id.Canonical() == "" || set.Contains(id) {
			continue
		}
		set = append(set, KeyID(id.Canonical()))
	}
	return set
}

// ParseRecipientSet parses the whitespace-separated .gpg-id format.
func ParseRecipientSet(s string) RecipientSet {
	fields := strings.Fields(s)
	ids := make([]KeyID, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, KeyID(f))
	}
	return NewRecipientSet(ids...)
}

// Contains reports whether id is a member of the set.
func (s RecipientSet) Contains(id KeyID) bool {
	return slices.ContainsFunc(s, id.Equal)
}

// Equal compares as sets: a reordered but identical set is equal.
func (s RecipientSet) Equal(other RecipientSet) bool {
	a, b := NewRecipientSet(s...), NewRecipientSet(other...)
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !b.Contains(id) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s RecipientSet) Clone() RecipientSet {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// Strings returns the canonical ids.
func (s RecipientSet) Strings() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = id.Canonical()
	}
	return out
}

// String renders the set in .gpg-id form.
func (s RecipientSet) String() string {
	return strings.Join(s.Strings(), " ")
}
