// Package mirror keeps a local copy of a remote git tree, stages file-level
// operations against it and folds them into exactly one remote commit per
// Commit call.
//
// The remote is only touched by Clone and Commit. Commit rebases the staged
// operations onto the latest remote commit: paths the remote changed that are
// not staged locally are carried forward untouched, paths removed remotely
// stay removed unless staged again, and staged operations always win.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultBranch is the only branch the mirror synchronizes unless configured.
const DefaultBranch = "master"

const defaultConcurrency = 8

// AttributesFile is ignored at the top level of cloned trees.
const AttributesFile = ".gitattributes"

// TreeEntry is a mirrored file. SHA is the git blob id of Data.
type TreeEntry struct {
	Path string
	Mode string
	SHA  string
	Data []byte
}

// File is a cloned file.
type File struct {
	Path string
	Data []byte
}

// Text returns the content as a string; recipient files are plain text.
func (f File) Text() string {
	return string(f.Data)
}

// OpKind enumerates staged operations.
type OpKind int

const (
	OpCreate OpKind = iota
	OpDelete
	OpMove
	OpChangeContent
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	case OpChangeContent:
		return "change"
	}
	return "unknown"
}

// StagedOp is a pending local change. From is only set for moves.
type StagedOp struct {
	Kind OpKind `json:"kind"`
	Path string `json:"path"`
	From string `json:"from,omitempty"`
	Data []byte `json:"data,omitempty"`

	seq uint64
}

// State is the part of a mirror that outlives the process: the last
// synchronized commit and the operations staged since.
type State struct {
	LastCommit string     `json:"last_commit"`
	Pending    []StagedOp `json:"pending"`
}

// CommitResult describes the outcome of Commit.
type CommitResult struct {
	// Commit is the branch head after the call.
	Commit string
	Tree   string
	// NoOp is set when nothing differed from the remote and no commit was made.
	NoOp     bool
	Uploaded int
	Files    int
}

// Mirror is a staged, in-memory mirror of one remote branch.
type Mirror struct {
	transport   Transport
	branch      string
	concurrency int
	logger      *slog.Logger

	mu         sync.Mutex
	lastCommit string
	entries    map[string]TreeEntry
	pending    []StagedOp
	seq        uint64

	busy atomic.Bool
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithBranch selects the synchronized branch.
func WithBranch(branch string) Option {
	return func(m *Mirror) {
		if branch != "" {
			m.branch = branch
		}
	}
}

// WithConcurrency bounds parallel blob transfers.
func WithConcurrency(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = l
	}
}

// New returns an empty mirror over transport.
func New(transport Transport, opts ...Option) *Mirror {
	m := &Mirror{
		transport:   transport,
		branch:      DefaultBranch,
		concurrency: defaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
		entries:     make(map[string]TreeEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Branch returns the synchronized branch.
func (m *Mirror) Branch() string { return m.branch }

// LastKnownCommit returns the remote commit the mirror was last synchronized with.
func (m *Mirror) LastKnownCommit() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCommit
}

// Entries returns the mirrored files sorted by path.
func (m *Mirror) Entries() []TreeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TreeEntry, 0, len(m.entries))
	for _, p := range slices.Sorted(maps.Keys(m.entries)) {
		out = append(out, m.entries[p])
	}
	return out
}

// File returns the mirrored content of p.
func (m *Mirror) File(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastCommit == "" {
		return nil, ErrNotCloned
	}
	e, ok := m.entries[cleanPath(p)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrPathNotFound)
	}
	return append([]byte(nil), e.Data...), nil
}

// Pending returns the staged operations in order.
func (m *Mirror) Pending() []StagedOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// State returns a snapshot of the last known commit and the staged
// operations.
func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{LastCommit: m.lastCommit, Pending: slices.Clone(m.pending)}
}

// Restore replaces the staged operations with those of st, restaging them in
// order. Cloned entries are not part of the state; File fails with
// ErrPathNotFound until the next Clone or Commit.
func (m *Mirror) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCommit = st.LastCommit
	m.entries = nil
	m.pending = nil
	for _, op := range st.Pending {
		op.Path = cleanPath(op.Path)
		if op.Kind == OpMove {
			op.From = cleanPath(op.From)
		}
		m.stageLocked(op)
	}
	m.logger.Debug("mirror restored", "commit", st.LastCommit, "count", len(m.pending))
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// StageCreate records a new file.
func (m *Mirror) StageCreate(p string, data []byte) {
	m.stage(StagedOp{Kind: OpCreate, Path: cleanPath(p), Data: data})
}

// StageDelete records a file removal.
func (m *Mirror) StageDelete(p string) {
	m.stage(StagedOp{Kind: OpDelete, Path: cleanPath(p)})
}

// StageMove records a rename of from to to.
func (m *Mirror) StageMove(from, to string) {
	m.stage(StagedOp{Kind: OpMove, From: cleanPath(from), Path: cleanPath(to)})
}

// StageChangeContent records new content for a file. Changing a file that
// does not exist remotely creates it.
func (m *Mirror) StageChangeContent(p string, data []byte) {
	m.stage(StagedOp{Kind: OpChangeContent, Path: cleanPath(p), Data: data})
}

func (m *Mirror) stage(op StagedOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageLocked(op)
	m.logger.Debug("staged", "op", op.Kind.String(), "path", op.Path)
}

// stageLocked appends op after dropping every earlier operation that targets
// the same path, so the last operation for a path wins. A dropped move still
// vacates its source, so it is replaced by a delete of that source unless the
// source was staged again after the move.
func (m *Mirror) stageLocked(op StagedOp) {
	var vacated []StagedOp
	m.pending = slices.DeleteFunc(m.pending, func(prev StagedOp) bool {
		if prev.Path != op.Path {
			return false
		}
		if prev.Kind == OpMove && prev.From != op.From && prev.From != op.Path {
			vacated = append(vacated, prev)
		}
		return true
	})
	for _, mv := range vacated {
		reused := slices.ContainsFunc(m.pending, func(p StagedOp) bool {
			return p.Path == mv.From && p.seq > mv.seq
		})
		if !reused {
			m.stageLocked(StagedOp{Kind: OpDelete, Path: mv.From})
		}
	}
	m.seq++
	op.seq = m.seq
	m.pending = append(m.pending, op)
}

// Snapshot is a fully downloaded remote state that has not been installed
// into a mirror yet.
type Snapshot struct {
	head    string
	entries map[string]TreeEntry
}

// Commit returns the commit the snapshot was taken at.
func (s Snapshot) Commit() string { return s.head }

// Files returns every file except a top-level .gitattributes, sorted by path.
func (s Snapshot) Files() []File {
	files := make([]File, 0, len(s.entries))
	for _, p := range slices.Sorted(maps.Keys(s.entries)) {
		if p == AttributesFile {
			continue
		}
		files = append(files, File{Path: p, Data: s.entries[p].Data})
	}
	return files
}

// Fetch downloads the latest remote state without touching the mirror.
func (m *Mirror) Fetch(ctx context.Context) (Snapshot, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Snapshot{}, ErrCommitInProgress
	}
	defer m.busy.Store(false)

	head, base, err := m.fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	entries, err := m.hydrate(ctx, base, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{head: head, entries: entries}, nil
}

// Install replaces the mirror with a fetched snapshot. Staged operations are
// discarded.
func (m *Mirror) Install(s Snapshot) {
	m.mu.Lock()
	m.entries = maps.Clone(s.entries)
	m.lastCommit = s.head
	m.pending = nil
	m.mu.Unlock()
	m.logger.Info("cloned", "commit", s.head, "count", len(s.entries))
}

// Clone replaces the mirror with the latest remote state and returns every
// file except a top-level .gitattributes, sorted by path. Staged operations
// are discarded.
func (m *Mirror) Clone(ctx context.Context) ([]File, error) {
	snap, err := m.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	m.Install(snap)
	return snap.Files(), nil
}

// fetch resolves the branch head and its recursive blob listing.
func (m *Mirror) fetch(ctx context.Context) (string, map[string]RemoteEntry, error) {
	head, err := m.transport.GetRef(ctx, m.branch)
	if err != nil {
		return "", nil, fmt.Errorf("resolving %s: %w", m.branch, err)
	}
	treeSHA, err := m.transport.GetCommit(ctx, head)
	if err != nil {
		return "", nil, fmt.Errorf("reading commit %s: %w", head, err)
	}
	tree, err := m.transport.GetTree(ctx, treeSHA, true)
	if err != nil {
		return "", nil, fmt.Errorf("reading tree %s: %w", treeSHA, err)
	}
	if tree.Truncated {
		return "", nil, fmt.Errorf("tree %s: %w", treeSHA, ErrTreeTruncated)
	}
	base := make(map[string]RemoteEntry, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.Type != TypeBlob {
			continue
		}
		base[e.Path] = e
	}
	return head, base, nil
}

// hydrate downloads the content of every remote entry whose blob is not
// already known locally.
func (m *Mirror) hydrate(ctx context.Context, remote map[string]RemoteEntry, known map[string][]byte) (map[string]TreeEntry, error) {
	out := make(map[string]TreeEntry, len(remote))
	var missing []RemoteEntry
	for p, e := range remote {
		if data, ok := known[e.SHA]; ok {
			out[p] = TreeEntry{Path: p, Mode: e.Mode, SHA: e.SHA, Data: data}
			continue
		}
		missing = append(missing, e)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, e := range missing {
		g.Go(func() error {
			data, err := m.transport.GetBlob(gctx, e.SHA)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", e.Path, err)
			}
			mu.Lock()
			out[e.Path] = TreeEntry{Path: e.Path, Mode: e.Mode, SHA: e.SHA, Data: data}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Commit rebases the staged operations onto the remote head and pushes them
// as a single commit. Any failure before the ref update leaves the remote
// branch untouched; a concurrent push surfaces as ErrRefUpdateConflict and
// keeps every staged operation for a retry. Operations staged while Commit
// runs stay pending.
func (m *Mirror) Commit(ctx context.Context, message string) (CommitResult, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return CommitResult{}, ErrCommitInProgress
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	ops := slices.Clone(m.pending)
	local := maps.Clone(m.entries)
	var upto uint64
	if len(ops) > 0 {
		upto = ops[len(ops)-1].seq
	}
	m.mu.Unlock()

	head, base, err := m.fetch(ctx)
	if err != nil {
		return CommitResult{}, err
	}

	known := make(map[string][]byte, len(local))
	remember := func(e TreeEntry) {
		if e.Data != nil {
			known[e.SHA] = e.Data
		}
	}
	for _, e := range local {
		remember(e)
	}
	merged := replay(base, local, ops, m.logger)
	for _, e := range merged {
		remember(e)
	}

	if sameTree(base, merged) {
		entries, err := m.hydrate(ctx, base, known)
		if err != nil {
			return CommitResult{}, err
		}
		m.finish(head, entries, upto)
		m.logger.Info("commit skipped, tree unchanged", "commit", head, "count", len(ops))
		return CommitResult{Commit: head, NoOp: true, Files: len(entries)}, nil
	}

	// Content carried forward from the remote without a local copy is
	// downloaded before anything is written, so the mirror can serve it.
	carried := make(map[string]RemoteEntry)
	for p, e := range merged {
		if e.Data == nil {
			carried[p] = RemoteEntry{Path: p, Mode: e.Mode, Type: TypeBlob, SHA: e.SHA}
		}
	}
	hydrated, err := m.hydrate(ctx, carried, known)
	if err != nil {
		return CommitResult{}, err
	}
	maps.Copy(merged, hydrated)

	uploaded, err := m.upload(ctx, base, merged)
	if err != nil {
		return CommitResult{}, err
	}

	remote := make([]RemoteEntry, 0, len(merged))
	for _, p := range slices.Sorted(maps.Keys(merged)) {
		e := merged[p]
		remote = append(remote, RemoteEntry{Path: p, Mode: e.Mode, Type: TypeBlob, SHA: e.SHA})
	}
	treeSHA, err := m.transport.CreateTree(ctx, remote)
	if err != nil {
		return CommitResult{}, fmt.Errorf("creating tree: %w", err)
	}
	commit, err := m.transport.CreateCommit(ctx, treeSHA, []string{head}, message)
	if err != nil {
		return CommitResult{}, fmt.Errorf("creating commit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	if err := m.transport.UpdateRef(ctx, m.branch, commit, head); err != nil {
		m.logger.Warn("ref update failed", "commit", commit, "error", err)
		return CommitResult{}, fmt.Errorf("updating %s: %w", m.branch, err)
	}

	m.finish(commit, merged, upto)
	m.logger.Info("committed", "commit", commit, "tree", treeSHA, "count", len(ops))
	return CommitResult{Commit: commit, Tree: treeSHA, Uploaded: uploaded, Files: len(merged)}, nil
}

// finish installs the new remote state and drops the operations that were
// part of it.
func (m *Mirror) finish(head string, entries map[string]TreeEntry, upto uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCommit = head
	m.entries = entries
	m.pending = slices.DeleteFunc(m.pending, func(op StagedOp) bool {
		return op.seq <= upto
	})
}

// upload creates a blob for every merged entry the remote does not already
// hold and records the host's blob id.
func (m *Mirror) upload(ctx context.Context, base map[string]RemoteEntry, merged map[string]TreeEntry) (int, error) {
	present := make(map[string]bool, len(base))
	for _, e := range base {
		present[e.SHA] = true
	}
	todo := make(map[string][]byte)
	for _, e := range merged {
		if !present[e.SHA] {
			todo[e.SHA] = e.Data
		}
	}

	var mu sync.Mutex
	remoteSHA := make(map[string]string, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for sha, data := range todo {
		g.Go(func() error {
			got, err := m.transport.CreateBlob(gctx, data)
			if err != nil {
				return fmt.Errorf("uploading blob: %w", err)
			}
			mu.Lock()
			remoteSHA[sha] = got
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for p, e := range merged {
		if got, ok := remoteSHA[e.SHA]; ok && got != e.SHA {
			m.logger.Warn("remote blob id differs from local hash", "path", p, "local", e.SHA, "remote", got)
			e.SHA = got
			merged[p] = e
		}
	}
	return len(todo), nil
}

// replay applies ops in order on top of the remote base tree. A move whose
// source is gone remotely takes its content from the local mirror.
func replay(base map[string]RemoteEntry, local map[string]TreeEntry, ops []StagedOp, logger *slog.Logger) map[string]TreeEntry {
	out := make(map[string]TreeEntry, len(base))
	for p, e := range base {
		out[p] = TreeEntry{Path: p, Mode: e.Mode, SHA: e.SHA, Data: local[p].dataIf(e.SHA)}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpCreate, OpChangeContent:
			mode := ModeFile
			if prev, ok := out[op.Path]; ok && prev.Mode != "" {
				mode = prev.Mode
			}
			out[op.Path] = TreeEntry{Path: op.Path, Mode: mode, SHA: BlobSHA(op.Data), Data: op.Data}
		case OpDelete:
			delete(out, op.Path)
		case OpMove:
			src, ok := out[op.From]
			if !ok {
				src, ok = local[op.From]
			}
			if !ok {
				logger.Warn("move source missing, skipped", "path", op.From)
				continue
			}
			delete(out, op.From)
			src.Path = op.Path
			out[op.Path] = src
		}
	}
	return out
}

func (e TreeEntry) dataIf(sha string) []byte {
	if e.SHA == sha {
		return e.Data
	}
	return nil
}

func sameTree(base map[string]RemoteEntry, merged map[string]TreeEntry) bool {
	if len(base) != len(merged) {
		return false
	}
	for p, e := range base {
		m, ok := merged[p]
		if !ok || m.SHA != e.SHA || m.Mode != e.Mode {
			return false
		}
	}
	return true
}
