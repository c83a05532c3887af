// Package store binds a key cache, a secret tree and an optional remote
// mirror into a password store addressed by slash separated paths.
//
// Paths are rooted at "/". A trailing "/" always names a directory; without
// it a password wins over a directory of the same name.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/keycache"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/storage"
	"github.com/jmcleod/ironpass/tree"
)

// Store is the composition root of a password store.
type Store struct {
	provider crypto.Provider
	keyring  *crypto.Keyring
	cache    *keycache.Cache
	tree     *tree.Tree
	mirror   *mirror.Mirror
	repo     storage.Repository
	logger   *slog.Logger

	ttl            time.Duration
	rootRecipients crypto.RecipientSet
	cacheOpts      []keycache.Option
}

// Item is a directory or a password.
type Item interface {
	Name() string
	Path() string
	Exists() bool
	Remove() error
}

var (
	_ Item = (*tree.Directory)(nil)
	_ Item = (*tree.Password)(nil)
)

// New returns an empty store. Public keys are resolved through keyring and
// secrets are encrypted with provider.
func New(provider crypto.Provider, keyring *crypto.Keyring, opts ...Option) *Store {
	s := &Store{
		provider: provider,
		keyring:  keyring,
		logger:   slog.New(slog.DiscardHandler),
		ttl:      keycache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	cacheOpts := append([]keycache.Option{keycache.WithLogger(s.logger)}, s.cacheOpts...)
	s.cache = keycache.New(s.ttl, cacheOpts...)

	treeOpts := []tree.Option{tree.WithLogger(s.logger)}
	if s.mirror != nil {
		treeOpts = append(treeOpts, tree.WithStager(s.mirror))
	}
	s.tree = tree.New(provider, keyring, s.cache, s.rootRecipients, treeOpts...)
	return s
}

// Close locks every key.
func (s *Store) Close() {
	s.cache.Close()
}

// Keyring returns the keyring of the store.
func (s *Store) Keyring() *crypto.Keyring { return s.keyring }

// Tree returns the underlying secret tree.
func (s *Store) Tree() *tree.Tree { return s.tree }

// Mirror returns the remote mirror, or nil.
func (s *Store) Mirror() *mirror.Mirror { return s.mirror }

// ImportPublicKey adds a public key to the keyring.
func (s *Store) ImportPublicKey(pub crypto.PublicKey) error {
	return s.keyring.ImportPublic(pub)
}

// ImportPrivateKey adds a passphrase-locked private key to the keyring.
func (s *Store) ImportPrivateKey(locked crypto.LockedKey) error {
	return s.keyring.ImportLocked(locked)
}

// ImportArmored imports every armored key in data and returns their
// fingerprints.
func (s *Store) ImportArmored(data []byte) ([]crypto.KeyID, error) {
	pubs, locked, err := crypto.Dearmor(data)
	if err != nil {
		return nil, err
	}
	var ids []crypto.KeyID
	for _, l := range locked {
		if err := s.keyring.ImportLocked(l); err != nil {
			return ids, err
		}
	}
	for _, p := range pubs {
		if err := s.keyring.ImportPublic(p); err != nil {
			return ids, err
		}
		ids = append(ids, p.Fingerprint())
	}
	return ids, nil
}

// Unlock decrypts the private key id with passphrase and caches it. The key
// stays unlocked until it has not been used for the cache TTL.
func (s *Store) Unlock(ctx context.Context, id crypto.KeyID, passphrase string) (crypto.KeyID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locked, err := s.keyring.Locked(id)
	if err != nil {
		return "", err
	}
	priv, err := s.provider.Unlock(locked, passphrase)
	if err != nil {
		return "", fmt.Errorf("unlocking %s: %w", locked.Public.ShortID(), err)
	}
	fp := locked.Fingerprint()
	s.cache.Put(fp, priv)
	s.logger.Info("key unlocked", "key_id", locked.Public.ShortID())
	return fp, nil
}

// Lock evicts id from the key cache.
func (s *Store) Lock(id crypto.KeyID) {
	if pub, err := s.keyring.Lookup(id); err == nil {
		id = pub.Fingerprint()
	}
	s.cache.Delete(id)
}

// LockAll evicts every unlocked key.
func (s *Store) LockAll() {
	s.cache.Purge()
}

// Unlocked returns the fingerprints of the currently unlocked keys.
func (s *Store) Unlocked() []crypto.KeyID {
	return s.cache.IDs()
}

// SetUnlockTTL changes the cache TTL and restarts every cached key on it.
func (s *Store) SetUnlockTTL(ttl time.Duration) {
	s.cache.SetTTL(ttl)
}

// KeyIDs returns the recipients of the root directory.
func (s *Store) KeyIDs() crypto.RecipientSet {
	ids, _ := s.tree.Root().OwnRecipients()
	return ids
}

// SetKeyIDs replaces the root recipients, re-encrypting every password that
// inherits them.
func (s *Store) SetKeyIDs(ctx context.Context, ids []crypto.KeyID) error {
	return s.tree.Root().SetRecipients(ctx, ids)
}

// Root returns the root directory.
func (s *Store) Root() *tree.Directory {
	return s.tree.Root()
}

// Init creates the directory at path, including missing parents, and sets its
// recipients.
func (s *Store) Init(ctx context.Context, path string, ids []crypto.KeyID) (*tree.Directory, error) {
	dir, err := s.tree.Root().AddDirectoryRecursive(path)
	if err != nil {
		return nil, err
	}
	if err := dir.SetRecipients(ctx, ids); err != nil {
		return nil, err
	}
	return dir, nil
}

// Insert stores content at path, creating missing directories. An existing
// password is only overwritten when force is set.
func (s *Store) Insert(ctx context.Context, path string, content []byte, force bool) (*tree.Password, error) {
	dirPath, name, err := splitPassword(path)
	if err != nil {
		return nil, err
	}
	dir, err := s.tree.Root().AddDirectoryRecursive(dirPath)
	if err != nil {
		return nil, err
	}
	if existing, err := dir.Password(name); err == nil {
		if !force {
			return nil, fmt.Errorf("%s: %w", existing.Path(), tree.ErrEntryExists)
		}
		if err := existing.SetContent(ctx, content); err != nil {
			return nil, err
		}
		return existing, nil
	}
	return dir.AddPassword(ctx, name, content)
}

// Show decrypts the password at path.
func (s *Store) Show(ctx context.Context, path string) ([]byte, error) {
	p, err := s.Password(path)
	if err != nil {
		return nil, err
	}
	return p.Content(ctx)
}

// Password resolves path to a password.
func (s *Store) Password(path string) (*tree.Password, error) {
	dirPath, name, err := splitPassword(path)
	if err != nil {
		return nil, err
	}
	dir, err := s.Directory(dirPath)
	if err != nil {
		return nil, err
	}
	return dir.Password(name)
}

// Directory resolves path to a directory. The trailing "/" is optional.
func (s *Store) Directory(path string) (*tree.Directory, error) {
	dir := s.tree.Root()
	for _, seg := range tree.SplitPath(path) {
		next, err := dir.Directory(seg)
		if err != nil {
			return nil, err
		}
		dir = next
	}
	return dir, nil
}

// Item resolves path to a password or, failing that or when path ends in
// "/", to a directory.
func (s *Store) Item(path string) (Item, error) {
	if !strings.HasSuffix(path, "/") {
		if p, err := s.Password(path); err == nil {
			return p, nil
		}
	}
	d, err := s.Directory(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, tree.ErrEntryNotFound)
	}
	return d, nil
}

// Exists reports whether a password is stored at path.
func (s *Store) Exists(path string) bool {
	return s.isPassword(path)
}

// Remove deletes the item at path.
func (s *Store) Remove(path string) error {
	item, err := s.Item(path)
	if err != nil {
		return err
	}
	return item.Remove()
}

// Move relocates the item at src. If dst ends in "/" or names an existing
// directory, the item keeps its name inside it; otherwise the last segment of
// dst becomes its new name. Missing destination directories are created.
func (s *Store) Move(ctx context.Context, src, dst string, force bool) (Item, error) {
	item, err := s.Item(src)
	if err != nil {
		return nil, err
	}
	parent, name, undo, err := s.destination(item, dst)
	if err != nil {
		return nil, err
	}
	switch it := item.(type) {
	case *tree.Password:
		err = it.MoveAs(ctx, parent, name, force)
	case *tree.Directory:
		err = it.MoveAs(ctx, parent, name, force)
	default:
		err = fmt.Errorf("%s: %w", src, ErrInvalidPath)
	}
	if err != nil {
		undo()
		return nil, err
	}
	return item, nil
}

// Copy duplicates the item at src following the destination rules of Move.
func (s *Store) Copy(ctx context.Context, src, dst string, force bool) (Item, error) {
	item, err := s.Item(src)
	if err != nil {
		return nil, err
	}
	parent, name, undo, err := s.destination(item, dst)
	if err != nil {
		return nil, err
	}
	switch it := item.(type) {
	case *tree.Password:
		p, err := it.CopyAs(ctx, parent, name, force)
		if err != nil {
			undo()
			return nil, err
		}
		return p, nil
	case *tree.Directory:
		d, err := it.CopyAs(ctx, parent, name, force)
		if err != nil {
			undo()
			return nil, err
		}
		return d, nil
	}
	undo()
	return nil, fmt.Errorf("%s: %w", src, ErrInvalidPath)
}

// destination resolves the target directory and name of a move or copy,
// creating missing directories. undo removes the directories it created and
// must be called if the relocation fails.
func (s *Store) destination(item Item, dst string) (dir *tree.Directory, name string, undo func(), err error) {
	if strings.HasSuffix(dst, "/") {
		dir, undo, err := s.ensureDirectory(dst)
		return dir, item.Name(), undo, err
	}
	if dir, err := s.Directory(dst); err == nil {
		if _, isDir := item.(*tree.Directory); isDir || !s.isPassword(dst) {
			return dir, item.Name(), func() {}, nil
		}
	}
	dirPath, name, err := splitPassword(dst)
	if err != nil {
		return nil, "", nil, err
	}
	dir, undo, err = s.ensureDirectory(dirPath)
	return dir, name, undo, err
}

// ensureDirectory returns the directory at path, creating the missing part of
// it. The returned undo removes the first created directory again as long as
// no password has been added beneath it.
func (s *Store) ensureDirectory(path string) (*tree.Directory, func(), error) {
	segs := tree.SplitPath(path)
	cur := s.tree.Root()
	for i, seg := range segs {
		next, err := cur.Directory(seg)
		if err == nil {
			cur = next
			continue
		}
		if !errors.Is(err, tree.ErrEntryNotFound) {
			return nil, nil, err
		}
		created, err := cur.AddDirectoryRecursive(strings.Join(segs[i:], "/"))
		if err != nil {
			return nil, nil, err
		}
		first, err := cur.Directory(seg)
		if err != nil {
			return created, func() {}, nil
		}
		return created, func() { removeIfEmpty(first) }, nil
	}
	return cur, func() {}, nil
}

var errNotEmpty = errors.New("directory not empty")

func removeIfEmpty(d *tree.Directory) {
	if err := d.Walk(func(*tree.Password) error { return errNotEmpty }); err != nil {
		return
	}
	_ = d.Remove()
}

func (s *Store) isPassword(path string) bool {
	_, err := s.Password(path)
	return err == nil
}

// Search returns the paths of the passwords whose name contains pattern,
// recursively unless deep is false.
func (s *Store) Search(pattern string, deep bool) ([]string, error) {
	return s.tree.Root().Search(pattern, deep)
}

// splitPassword splits a password path into its directory path and name.
func splitPassword(path string) (string, string, error) {
	if strings.HasSuffix(path, "/") {
		return "", "", fmt.Errorf("%q names a directory: %w", path, ErrInvalidPath)
	}
	segs := tree.SplitPath(path)
	if len(segs) == 0 {
		return "", "", fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}
