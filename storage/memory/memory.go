// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jmcleod/ironpass/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Repository) Put(bucket, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(bucket, recordID, data)
}

func (r *Repository) putLocked(bucket, recordID string, data []byte) error {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string][]byte)
	}
	r.data[bucket][recordID] = cloneBytes(data)
	return nil
}

func (r *Repository) Get(bucket, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.data[bucket][recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
	}
	return cloneBytes(data), nil
}

func (r *Repository) List(bucket string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.data[bucket])), nil
}

func (r *Repository) Delete(bucket, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(bucket, recordID)
}

func (r *Repository) deleteLocked(bucket, recordID string) error {
	records, ok := r.data[bucket]
	if !ok {
		return fmt.Errorf("%s: %w", bucket, storage.ErrNotFound)
	}
	if _, ok := records[recordID]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, recordID, storage.ErrNotFound)
	}
	delete(records, recordID)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryBatchTx{repo: r, bucket: bucket}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string][]byte {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = cloneBytes(v)
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, bucket)
	} else {
		r.data[bucket] = snapshot
	}
}

type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Put(recordID string, data []byte) error {
	return tx.repo.putLocked(tx.bucket, recordID, data)
}

func (tx *memoryBatchTx) Delete(recordID string) error {
	return tx.repo.deleteLocked(tx.bucket, recordID)
}

func (tx *memoryBatchTx) Clear() error {
	delete(tx.repo.data, tx.bucket)
	return nil
}
