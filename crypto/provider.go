package crypto

// Provider performs the asymmetric operations the tree consumes. Encrypt
// produces a ciphertext decryptable by any of the recipients; KeyIDsOf
// reports those recipients without requiring a private key.
type Provider interface {
	Encrypt(plaintext []byte, recipients []PublicKey) ([]byte, error)
	Decrypt(ciphertext []byte, key PrivateKey) ([]byte, error)
	KeyIDsOf(ciphertext []byte) ([]KeyID, error)
	Unlock(locked LockedKey, passphrase string) (PrivateKey, error)
}
