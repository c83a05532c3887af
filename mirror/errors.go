package mirror

import (
	"errors"
	"fmt"
)

var (
	// ErrCommitInProgress indicates another Clone or Commit is in flight.
	ErrCommitInProgress = errors.New("commit in progress")

	// ErrTreeTruncated indicates the host truncated the recursive tree listing.
	// Retrying does not help; the remote repository has to be restructured.
	ErrTreeTruncated = errors.New("remote tree listing truncated")

	// ErrRefUpdateConflict indicates the branch moved while committing. The
	// whole Commit may be retried.
	ErrRefUpdateConflict = errors.New("ref update conflict")

	// ErrTransport indicates a network or HTTP level failure.
	ErrTransport = errors.New("transport failure")

	// ErrNotCloned indicates the mirror has not synchronized with the remote yet.
	ErrNotCloned = errors.New("mirror not cloned")

	// ErrPathNotFound indicates a path absent from the mirrored tree.
	ErrPathNotFound = errors.New("path not found")
)

// TransportError carries the HTTP status and response body of a failed
// request. It unwraps to ErrRefUpdateConflict for rejected ref updates and
// to ErrTransport otherwise.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	if e.StatusCode == 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	errs := []error{ErrTransport}
	if e.Err != nil {
		errs = []error{e.Err}
		if !errors.Is(e.Err, ErrRefUpdateConflict) {
			errs = append(errs, ErrTransport)
		}
	}
	return errs
}
