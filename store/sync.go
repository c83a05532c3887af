package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/storage"
	"github.com/jmcleod/ironpass/tree"
)

// Clone replaces the whole tree with the contents of the remote branch.
// Every "<path>.gpg" file becomes a password and every ".gpg-id" file sets
// the recipients of its directory. Ciphertexts are taken as is. The mirror
// and its staged operations are only replaced once the tree has loaded.
func (s *Store) Clone(ctx context.Context) error {
	if s.mirror == nil {
		return ErrNoRemote
	}
	snap, err := s.mirror.Fetch(ctx)
	if err != nil {
		return err
	}
	files := snap.Files()
	entries := make([]tree.Entry, 0, len(files))
	for _, f := range files {
		if e, ok := s.entryFromFile(f); ok {
			entries = append(entries, e)
		}
	}
	if err := s.tree.Load(entries); err != nil {
		return fmt.Errorf("loading clone: %w", err)
	}
	s.mirror.Install(snap)
	s.logger.Info("store cloned", "commit", snap.Commit(), "count", len(entries))
	return nil
}

func (s *Store) entryFromFile(f mirror.File) (tree.Entry, bool) {
	dir, name := path.Split(f.Path)
	switch {
	case strings.HasSuffix(name, mirror.AttributesFile):
		return tree.Entry{}, false
	case name == tree.RecipientsFile:
		return tree.Entry{
			Path:       "/" + dir,
			Dir:        true,
			Recipients: crypto.ParseRecipientSet(f.Text()),
		}, true
	case strings.HasSuffix(name, tree.PasswordSuffix):
		name = strings.TrimSuffix(name, tree.PasswordSuffix)
		if err := tree.ValidateName(name); err != nil {
			s.logger.Warn("skipping remote file", "path", f.Path, "error", err)
			return tree.Entry{}, false
		}
		return tree.Entry{Path: "/" + dir + name, Ciphertext: f.Data}, true
	}
	s.logger.Debug("ignoring remote file", "path", f.Path)
	return tree.Entry{}, false
}

// Commit pushes every change staged since the last Clone or Commit as one
// remote commit.
func (s *Store) Commit(ctx context.Context, message string) (mirror.CommitResult, error) {
	if s.mirror == nil {
		return mirror.CommitResult{}, ErrNoRemote
	}
	return s.mirror.Commit(ctx, message)
}

// Save writes a snapshot of the tree to the local repository, replacing the
// previous one atomically.
func (s *Store) Save(ctx context.Context) error {
	if s.repo == nil {
		return ErrNoRepository
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	type record struct {
		id   string
		data []byte
	}
	var records []record
	err := s.tree.Walk(func(e tree.Entry) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		records = append(records, record{id: e.Path, data: data})
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshotting tree: %w", err)
	}
	err = s.repo.Batch(storage.BucketTree, func(tx storage.BatchTx) error {
		if err := tx.Clear(); err != nil {
			return err
		}
		for _, r := range records {
			if err := tx.Put(r.id, r.data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving tree: %w", err)
	}
	if s.mirror != nil {
		data, err := json.Marshal(s.mirror.State())
		if err != nil {
			return err
		}
		if err := s.repo.Put(storage.BucketMirror, mirrorStateID, data); err != nil {
			return fmt.Errorf("saving mirror state: %w", err)
		}
	}
	s.logger.Info("tree saved", "count", len(records))
	return nil
}

const mirrorStateID = "state"

// Load replaces the tree with the snapshot in the local repository. An empty
// repository leaves the tree untouched.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return ErrNoRepository
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ids, err := s.repo.List(storage.BucketTree)
	if err != nil {
		return fmt.Errorf("listing tree snapshot: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	st, err := s.readMirrorState()
	if err != nil {
		return err
	}
	entries := make([]tree.Entry, 0, len(ids))
	for _, id := range ids {
		data, err := s.repo.Get(storage.BucketTree, id)
		if err != nil {
			return fmt.Errorf("reading %s: %w", id, err)
		}
		var e tree.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	if err := s.tree.Load(entries); err != nil {
		return err
	}
	if st != nil {
		s.mirror.Restore(*st)
	}
	return nil
}

// readMirrorState returns the staged operations saved with the snapshot, so
// changes made by one process can be committed by another. It returns nil
// when there is no mirror or nothing was saved.
func (s *Store) readMirrorState() (*mirror.State, error) {
	if s.mirror == nil {
		return nil, nil
	}
	data, err := s.repo.Get(storage.BucketMirror, mirrorStateID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mirror state: %w", err)
	}
	var st mirror.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding mirror state: %w", err)
	}
	return &st, nil
}
