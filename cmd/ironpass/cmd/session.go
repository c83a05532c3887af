package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/internal/config"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/mirror/github"
	bboltstorage "github.com/jmcleod/ironpass/storage/bbolt"
	"github.com/jmcleod/ironpass/store"
	"github.com/jmcleod/ironpass/tree"
)

// newTransport builds the transport of the configured remote. Tests replace it.
var newTransport = func(r config.Remote) (mirror.Transport, error) {
	return github.New(r.URL, github.WithToken(r.Token()), github.WithUserAgent(r.UserAgent))
}

// session is one opened store backed by the bbolt database of the data dir.
type session struct {
	repo  *bboltstorage.Store
	store *store.Store
}

func openSession(cmd *cobra.Command) (*session, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.DBPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	keyring := crypto.NewKeyring(crypto.WithRepository(repo), crypto.WithKeyringLogger(logger))
	if err := keyring.Load(); err != nil {
		repo.Close()
		return nil, err
	}

	opts := []store.Option{
		store.WithRepository(repo),
		store.WithLogger(logger),
		store.WithTTL(cfg.UnlockTTL.Duration),
	}
	if cfg.Remote.URL != "" {
		transport, err := newTransport(cfg.Remote)
		if err != nil {
			repo.Close()
			return nil, err
		}
		opts = append(opts, store.WithMirror(mirror.New(transport,
			mirror.WithBranch(cfg.Remote.Branch),
			mirror.WithLogger(logger),
		)))
	}

	s := store.New(crypto.NewX25519(), keyring, opts...)
	if err := s.Load(cmd.Context()); err != nil {
		s.Close()
		repo.Close()
		return nil, err
	}
	return &session{repo: repo, store: s}, nil
}

func (s *session) save(ctx context.Context) error {
	return s.store.Save(ctx)
}

func (s *session) close() {
	s.store.Close()
	s.repo.Close()
}

// withSession opens a session around fn. When mutate is set the tree is
// saved after fn succeeds.
func withSession(cmd *cobra.Command, mutate bool, fn func(*session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	if err := fn(s); err != nil {
		return err
	}
	if mutate {
		return s.save(cmd.Context())
	}
	return nil
}

// nearestDirectory returns the deepest existing directory along path.
func (s *session) nearestDirectory(path string) *tree.Directory {
	dir := s.store.Root()
	for _, seg := range tree.SplitPath(path) {
		next, err := dir.Directory(seg)
		if err != nil {
			break
		}
		dir = next
	}
	return dir
}

// unlockFor makes sure a private key able to decrypt passwords under path is
// cached, prompting for the passphrase of the first recipient with a known
// private key.
func (s *session) unlockFor(cmd *cobra.Command, path string) error {
	dir := s.nearestDirectory(path)
	if _, err := dir.UnlockedPrivateKey(); err == nil {
		return nil
	}
	eff, err := dir.EffectiveRecipients()
	if err != nil {
		return err
	}
	for _, id := range eff {
		locked, err := s.store.Keyring().Locked(id)
		if err != nil {
			continue
		}
		prompt := fmt.Sprintf("Passphrase for %s (%s): ", locked.Public.Name, locked.Public.ShortID())
		pass, err := readSecret(cmd, prompt)
		if err != nil {
			return err
		}
		_, err = s.store.Unlock(cmd.Context(), id, pass)
		return err
	}
	return fmt.Errorf("%s: %w", dir.Path(), tree.ErrNoUnlockedKey)
}

// hasPasswords reports whether item is a password or a directory holding any.
func hasPasswords(item store.Item) bool {
	d, ok := item.(*tree.Directory)
	if !ok {
		return true
	}
	found := false
	d.Walk(func(*tree.Password) error {
		found = true
		return nil
	})
	return found
}
