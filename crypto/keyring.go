package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/ironpass/storage"
)

// Keyring holds the known public keys and passphrase-locked private keys.
// When a storage.Repository is configured, imports are written through so
// the keyring survives restarts; unlocked material is never persisted.
type Keyring struct {
	mu     sync.RWMutex
	public map[string]PublicKey
	locked map[string]LockedKey

	repo   storage.Repository
	logger *slog.Logger
}

// KeyringOption configures a Keyring.
type KeyringOption func(*Keyring)

// WithRepository persists imported keys to repo.
func WithRepository(repo storage.Repository) KeyringOption {
	return func(k *Keyring) {
		k.repo = repo
	}
}

// WithKeyringLogger sets the logger.
func WithKeyringLogger(logger *slog.Logger) KeyringOption {
	return func(k *Keyring) {
		k.logger = logger
	}
}

// NewKeyring returns an empty keyring.
func NewKeyring(opts ...KeyringOption) *Keyring {
	k := &Keyring{
		public: make(map[string]PublicKey),
		locked: make(map[string]LockedKey),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Load reads every persisted key from the repository into memory.
func (k *Keyring) Load() error {
	if k.repo == nil {
		return nil
	}
	pubs, err := loadAll[PublicKey](k.repo, storage.BucketPublicKeys)
	if err != nil {
		return err
	}
	locked, err := loadAll[LockedKey](k.repo, storage.BucketPrivateKeys)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range pubs {
		k.public[p.Fingerprint().Canonical()] = p
	}
	for _, l := range locked {
		k.locked[l.Fingerprint().Canonical()] = l
		k.public[l.Fingerprint().Canonical()] = l.Public
	}
	k.logger.Debug("keyring loaded", "public", len(k.public), "private", len(k.locked))
	return nil
}

func loadAll[T any](repo storage.Repository, bucket string) ([]T, error) {
	ids, err := repo.List(bucket)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", bucket, err)
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		data, err := repo.Get(bucket, id)
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", bucket, id, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", bucket, id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (k *Keyring) persist(bucket, id string, v any) error {
	if k.repo == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := k.repo.Put(bucket, id, data); err != nil {
		return fmt.Errorf("persisting %s/%s: %w", bucket, id, err)
	}
	return nil
}

// ImportPublic adds or replaces a public key.
func (k *Keyring) ImportPublic(pub PublicKey) error {
	fp := pub.Fingerprint().Canonical()
	if err := k.persist(storage.BucketPublicKeys, fp, pub); err != nil {
		return err
	}
	k.mu.Lock()
	k.public[fp] = pub
	k.mu.Unlock()
	k.logger.Debug("public key imported", "key_id", pub.ShortID())
	return nil
}

// ImportLocked adds or replaces a locked private key and its public half.
func (k *Keyring) ImportLocked(locked LockedKey) error {
	if err := k.ImportPublic(locked.Public); err != nil {
		return err
	}
	fp := locked.Fingerprint().Canonical()
	if err := k.persist(storage.BucketPrivateKeys, fp, locked); err != nil {
		return err
	}
	k.mu.Lock()
	k.locked[fp] = locked
	k.mu.Unlock()
	k.logger.Debug("private key imported", "key_id", locked.Public.ShortID())
	return nil
}

// Lookup resolves id to a public key. Hex ids match a fingerprint or its
// short-id suffix; anything else is matched case-insensitively against the
// user ids, so "alice@example.com" resolves "Alice <alice@example.com>".
func (k *Keyring) Lookup(id KeyID) (PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	// Iterate in fingerprint order so ambiguous user ids resolve stably.
	for _, fp := range slices.Sorted(maps.Keys(k.public)) {
		pub := k.public[fp]
		if id.Matches(KeyID(fp)) {
			return pub, nil
		}
	}
	if !id.IsHex() {
		needle := strings.ToLower(id.Canonical())
		for _, fp := range slices.Sorted(maps.Keys(k.public)) {
			pub := k.public[fp]
			if needle != "" && strings.Contains(strings.ToLower(pub.Name), needle) {
				return pub, nil
			}
		}
	}
	return PublicKey{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, id)
}

// PublicKeys resolves every id of a recipient set. The first id that does not
// resolve fails the whole call with ErrUnknownRecipient.
func (k *Keyring) PublicKeys(ids RecipientSet) ([]PublicKey, error) {
	out := make([]PublicKey, 0, len(ids))
	for _, id := range ids {
		pub, err := k.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// Locked returns the locked private key for id. ErrUnknownRecipient means
// the id is unknown; ErrNoPrivateKey means only the public half is known.
func (k *Keyring) Locked(id KeyID) (LockedKey, error) {
	pub, err := k.Lookup(id)
	if err != nil {
		return LockedKey{}, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	locked, ok := k.locked[pub.Fingerprint().Canonical()]
	if !ok {
		return LockedKey{}, fmt.Errorf("%w: %s", ErrNoPrivateKey, pub.ShortID())
	}
	return locked, nil
}

// HasPrivate reports whether a locked private key is known for id.
func (k *Keyring) HasPrivate(id KeyID) bool {
	_, err := k.Locked(id)
	return err == nil
}

// Remove forgets a key pair, including any persisted copies.
func (k *Keyring) Remove(id KeyID) error {
	pub, err := k.Lookup(id)
	if err != nil {
		return err
	}
	fp := pub.Fingerprint().Canonical()
	if k.repo != nil {
		for _, bucket := range []string{storage.BucketPublicKeys, storage.BucketPrivateKeys} {
			if err := k.repo.Delete(bucket, fp); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("deleting %s/%s: %w", bucket, fp, err)
			}
		}
	}
	k.mu.Lock()
	delete(k.public, fp)
	delete(k.locked, fp)
	k.mu.Unlock()
	return nil
}

// List returns all known public keys ordered by fingerprint.
func (k *Keyring) List() []PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]PublicKey, 0, len(k.public))
	for _, fp := range slices.Sorted(maps.Keys(k.public)) {
		out = append(out, k.public[fp])
	}
	return out
}
