// Package memory provides an in-memory git host implementing
// mirror.Transport. Objects are content addressed and ref updates are a
// true compare-and-swap, so it can stand in for a remote in tests and
// offline demos.
package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/ironpass/mirror"
)

// Operation names accepted by FailNext and BeforeNext.
const (
	OpGetRef       = "GetRef"
	OpGetCommit    = "GetCommit"
	OpGetTree      = "GetTree"
	OpGetBlob      = "GetBlob"
	OpCreateBlob   = "CreateBlob"
	OpCreateTree   = "CreateTree"
	OpCreateCommit = "CreateCommit"
	OpUpdateRef    = "UpdateRef"
)

type commit struct {
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
	Message string   `json:"message"`
}

// Host is an in-memory git host with flat, recursive trees.
type Host struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	trees     map[string][]mirror.RemoteEntry
	commits   map[string]commit
	refs      map[string]string
	truncated bool
	failures  map[string]error
	hooks     map[string]func()
	calls     map[string]int
}

var _ mirror.Transport = (*Host)(nil)

// NewHost returns an empty host without branches.
func NewHost() *Host {
	return &Host{
		blobs:    make(map[string][]byte),
		trees:    make(map[string][]mirror.RemoteEntry),
		commits:  make(map[string]commit),
		refs:     make(map[string]string),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
		calls:    make(map[string]int),
	}
}

// SetTruncated makes every following GetTree report a truncated listing.
func (h *Host) SetTruncated(truncated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.truncated = truncated
}

// FailNext makes the next call of op fail with err.
func (h *Host) FailNext(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[op] = err
}

// BeforeNext runs fn once, right before the next call of op is served.
func (h *Host) BeforeNext(op string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[op] = fn
}

// Calls reports how many times op was invoked.
func (h *Host) Calls(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

// enter records a call, runs a pending hook and returns a pending failure.
func (h *Host) enter(op string) error {
	h.mu.Lock()
	h.calls[op]++
	hook := h.hooks[op]
	delete(h.hooks, op)
	h.mu.Unlock()

	if hook != nil {
		hook()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.failures[op]; ok {
		delete(h.failures, op)
		return err
	}
	return nil
}

// Seed creates an initial commit holding files on branch.
func (h *Host) Seed(branch string, files map[string][]byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.refs[branch]; ok {
		return "", fmt.Errorf("branch %s already exists", branch)
	}
	sha := h.commitFilesLocked(nil, files, "initial commit")
	h.refs[branch] = sha
	return sha, nil
}

// Advance pushes a commit on top of branch that writes files and removes
// deleted, as another client would.
func (h *Host) Advance(branch string, files map[string][]byte, deleted ...string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	head, ok := h.refs[branch]
	if !ok {
		return "", fmt.Errorf("branch %s: %w", branch, mirror.ErrPathNotFound)
	}
	current := h.filesLocked(head)
	for _, p := range deleted {
		delete(current, p)
	}
	maps.Copy(current, files)
	sha := h.commitFilesLocked([]string{head}, current, "remote change")
	h.refs[branch] = sha
	return sha, nil
}

// Head returns the commit branch points at.
func (h *Host) Head(branch string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs[branch]
}

// Files returns the content of every file at the head of branch.
func (h *Host) Files(branch string) map[string][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	head, ok := h.refs[branch]
	if !ok {
		return nil
	}
	return h.filesLocked(head)
}

// History returns the first-parent chain of branch, newest first.
func (h *Host) History(branch string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for sha := h.refs[branch]; sha != ""; {
		out = append(out, sha)
		c := h.commits[sha]
		if len(c.Parents) == 0 {
			break
		}
		sha = c.Parents[0]
	}
	return out
}

// Parents returns the parents of a commit.
func (h *Host) Parents(sha string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.commits[sha].Parents)
}

// Message returns the message of a commit.
func (h *Host) Message(sha string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commits[sha].Message
}

func (h *Host) filesLocked(commitSHA string) map[string][]byte {
	out := make(map[string][]byte)
	for _, e := range h.trees[h.commits[commitSHA].Tree] {
		if e.Type == mirror.TypeBlob {
			out[e.Path] = slices.Clone(h.blobs[e.SHA])
		}
	}
	return out
}

func (h *Host) commitFilesLocked(parents []string, files map[string][]byte, message string) string {
	entries := make([]mirror.RemoteEntry, 0, len(files))
	for _, p := range slices.Sorted(maps.Keys(files)) {
		entries = append(entries, mirror.RemoteEntry{
			Path: p, Mode: mirror.ModeFile, Type: mirror.TypeBlob,
			SHA: h.putBlobLocked(files[p]), Size: int64(len(files[p])),
		})
	}
	return h.putCommitLocked(commit{Tree: h.putTreeLocked(entries), Parents: parents, Message: message})
}

func (h *Host) putBlobLocked(data []byte) string {
	sha := mirror.BlobSHA(data)
	h.blobs[sha] = slices.Clone(data)
	return sha
}

func (h *Host) putTreeLocked(entries []mirror.RemoteEntry) string {
	entries = slices.Clone(entries)
	slices.SortFunc(entries, func(a, b mirror.RemoteEntry) int { return strings.Compare(a.Path, b.Path) })
	sha := objectSHA("tree", entries)
	h.trees[sha] = entries
	return sha
}

func (h *Host) putCommitLocked(c commit) string {
	sha := objectSHA("commit", c)
	h.commits[sha] = c
	return sha
}

func objectSHA(kind string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	sum := sha1.Sum(append([]byte(kind+"\x00"), data...))
	return hex.EncodeToString(sum[:])
}

func notFound(kind, sha string) error {
	return &mirror.TransportError{Op: "get " + kind + " " + sha, StatusCode: 404, Body: "Not Found"}
}

// GetRef implements mirror.Transport.
func (h *Host) GetRef(ctx context.Context, branch string) (string, error) {
	if err := h.enter(OpGetRef); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sha, ok := h.refs[branch]
	if !ok {
		return "", notFound("ref", branch)
	}
	return sha, nil
}

// GetCommit implements mirror.Transport.
func (h *Host) GetCommit(ctx context.Context, sha string) (string, error) {
	if err := h.enter(OpGetCommit); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.commits[sha]
	if !ok {
		return "", notFound("commit", sha)
	}
	return c.Tree, nil
}

// GetTree implements mirror.Transport. Trees are stored flat, so recursive
// and non-recursive listings are the same.
func (h *Host) GetTree(ctx context.Context, sha string, recursive bool) (mirror.RemoteTree, error) {
	if err := h.enter(OpGetTree); err != nil {
		return mirror.RemoteTree{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.trees[sha]
	if !ok {
		return mirror.RemoteTree{}, notFound("tree", sha)
	}
	return mirror.RemoteTree{SHA: sha, Entries: slices.Clone(entries), Truncated: h.truncated}, nil
}

// GetBlob implements mirror.Transport.
func (h *Host) GetBlob(ctx context.Context, sha string) ([]byte, error) {
	if err := h.enter(OpGetBlob); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.blobs[sha]
	if !ok {
		return nil, notFound("blob", sha)
	}
	return slices.Clone(data), nil
}

// CreateBlob implements mirror.Transport.
func (h *Host) CreateBlob(ctx context.Context, data []byte) (string, error) {
	if err := h.enter(OpCreateBlob); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.putBlobLocked(data), nil
}

// CreateTree implements mirror.Transport. Every blob must already exist.
func (h *Host) CreateTree(ctx context.Context, entries []mirror.RemoteEntry) (string, error) {
	if err := h.enter(OpCreateTree); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		if _, ok := h.blobs[e.SHA]; !ok {
			return "", &mirror.TransportError{Op: "create tree", StatusCode: 422, Body: "unknown blob " + e.SHA}
		}
	}
	return h.putTreeLocked(entries), nil
}

// CreateCommit implements mirror.Transport.
func (h *Host) CreateCommit(ctx context.Context, tree string, parents []string, message string) (string, error) {
	if err := h.enter(OpCreateCommit); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.trees[tree]; !ok {
		return "", &mirror.TransportError{Op: "create commit", StatusCode: 422, Body: "unknown tree " + tree}
	}
	return h.putCommitLocked(commit{Tree: tree, Parents: slices.Clone(parents), Message: message}), nil
}

// UpdateRef implements mirror.Transport.
func (h *Host) UpdateRef(ctx context.Context, branch, sha, expectedPrevious string) error {
	if err := h.enter(OpUpdateRef); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.commits[sha]; !ok {
		return &mirror.TransportError{Op: "update ref", StatusCode: 422, Body: "unknown commit " + sha}
	}
	if h.refs[branch] != expectedPrevious {
		return &mirror.TransportError{Op: "update ref", StatusCode: 422, Body: "Update is not a fast forward", Err: mirror.ErrRefUpdateConflict}
	}
	h.refs[branch] = sha
	return nil
}
