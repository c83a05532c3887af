package store

import (
	"log/slog"
	"time"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/keycache"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/storage"
)

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long an unlocked private key stays cached after its last use.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMirror attaches a remote mirror. Every file-level change of the tree is
// staged on it and Clone and Commit become available.
func WithMirror(m *mirror.Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// WithRepository enables Save and Load of tree snapshots.
func WithRepository(repo storage.Repository) Option {
	return func(s *Store) {
		s.repo = repo
	}
}

// WithLogger sets the logger shared by the store, its tree and its key cache.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithRootRecipients sets the recipients of the root directory of a fresh tree.
func WithRootRecipients(ids ...crypto.KeyID) Option {
	return func(s *Store) {
		s.rootRecipients = crypto.NewRecipientSet(ids...)
	}
}

// WithCacheOptions passes options through to the key cache.
func WithCacheOptions(opts ...keycache.Option) Option {
	return func(s *Store) {
		s.cacheOpts = append(s.cacheOpts, opts...)
	}
}
