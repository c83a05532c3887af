// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironpass/storage"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// Store implements storage.Repository backed by a BBolt database. Each
// logical bucket maps to one top-level bolt bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(bucket, recordID string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(recordID), data)
	})
}

func (s *Store) Get(bucket, recordID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, storage.ErrNotFound)
		}
		v := b.Get([]byte(recordID))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Delete(bucket, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s: %w", bucket, storage.ErrNotFound)
		}
		return deleteInBucket(b, bucket, recordID)
	})
}

func deleteInBucket(b *bbolt.Bucket, bucket, recordID string) error {
	if b.Get([]byte(recordID)) == nil {
		return fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
	}
	return b.Delete([]byte(recordID))
}

func (s *Store) List(bucket string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

type boltBatchTx struct {
	tx     *bbolt.Tx
	name   string
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(recordID string, data []byte) error {
	return tx.bucket.Put([]byte(recordID), data)
}

func (tx *boltBatchTx) Delete(recordID string) error {
	return deleteInBucket(tx.bucket, tx.name, recordID)
}

func (tx *boltBatchTx) Clear() error {
	if err := tx.tx.DeleteBucket([]byte(tx.name)); err != nil && !errors.Is(err, berrors.ErrBucketNotFound) {
		return err
	}
	b, err := tx.tx.CreateBucket([]byte(tx.name))
	if err != nil {
		return err
	}
	tx.bucket = b
	return nil
}

func (s *Store) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{tx: tx, name: bucket, bucket: b})
	})
}
