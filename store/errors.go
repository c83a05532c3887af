package store

import "errors"

var (
	// ErrNoRemote indicates a sync operation on a store without a mirror.
	ErrNoRemote = errors.New("no remote configured")
	// ErrNoRepository indicates Save or Load on a store without local storage.
	ErrNoRepository = errors.New("no local repository configured")
	// ErrInvalidPath indicates a path that cannot name the requested kind of entry.
	ErrInvalidPath = errors.New("invalid path")
)
