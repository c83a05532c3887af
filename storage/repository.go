// Package storage provides the local persistence layer for keyring material
// and tree snapshots. Records are opaque bytes; callers only ever store public
// keys, passphrase-locked private keys and ciphertexts.
package storage

import "errors"

// ErrNotFound is returned when a bucket or record does not exist.
var ErrNotFound = errors.New("record not found")

// Well-known buckets.
const (
	BucketPublicKeys  = "public_keys"
	BucketPrivateKeys = "private_keys"
	BucketTree        = "tree"
	BucketMirror      = "mirror"
)

// BatchTx provides writes within an atomic transaction scoped to one bucket.
type BatchTx interface {
	Put(recordID string, data []byte) error
	Delete(recordID string) error
	// Clear removes every record in the bucket.
	Clear() error
}

// Repository defines the interface for local record storage.
type Repository interface {
	Put(bucket, recordID string, data []byte) error
	Get(bucket, recordID string) ([]byte, error)
	// List returns the record ids of a bucket in ascending order. A missing
	// bucket is empty, not an error.
	List(bucket string) ([]string, error)
	Delete(bucket, recordID string) error
	// Batch runs fn in a single transaction. If fn fails, none of its writes
	// are visible.
	Batch(bucket string, fn func(tx BatchTx) error) error
}
