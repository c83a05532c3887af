package tree

import "errors"

var (
	// ErrEntryExists indicates a name is already taken in the target namespace.
	ErrEntryExists = errors.New("entry already exists")

	// ErrEntryNotFound indicates a directory or password lookup miss, or a
	// handle whose node has been removed.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrCannotRemoveRoot indicates an attempt to remove the root directory.
	ErrCannotRemoveRoot = errors.New("cannot remove root directory")

	// ErrNoUnlockedKey indicates none of the relevant recipients has an
	// unlocked private key in the key cache.
	ErrNoUnlockedKey = errors.New("no unlocked private key")

	// ErrSubtreeBusy indicates the target lies in a subtree locked by an
	// in-flight re-encryption cascade.
	ErrSubtreeBusy = errors.New("subtree busy")

	// ErrInvalidName indicates an entry name that cannot be represented as a path segment.
	ErrInvalidName = errors.New("invalid entry name")

	// ErrMoveIntoSelf indicates a directory move or copy into itself or a descendant.
	ErrMoveIntoSelf = errors.New("cannot move directory into itself")
)
