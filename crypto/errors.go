package crypto

import "errors"

// Key resolution errors.
var (
	// ErrUnknownRecipient indicates a key id does not resolve to a known public key.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrNoPrivateKey indicates the keyring holds no private key for the id at all.
	ErrNoPrivateKey = errors.New("no private key for id")

	// ErrNoRecipients indicates an encryption was attempted with an empty recipient set.
	ErrNoRecipients = errors.New("no recipients")
)

// Cryptographic errors.
var (
	// ErrWrongPassphrase indicates a locked private key could not be opened with the passphrase.
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrNotRecipient indicates a ciphertext was not encrypted to the supplied private key.
	ErrNotRecipient = errors.New("ciphertext is not encrypted to this key")

	// ErrMalformedCiphertext indicates the ciphertext envelope could not be parsed.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrKeyDestroyed indicates an unlocked key handle was used after eviction.
	ErrKeyDestroyed = errors.New("private key handle destroyed")
)
