// Package tree implements the key-scoped secret namespace: directories that
// carry recipient sets, passwords encrypted to the recipients of their
// directory, and the re-encryption cascades that keep the two consistent.
//
// Nodes live in an arena owned by the Tree and reference their parent by id;
// the root is tagged rather than pointing at itself. Directory and Password
// are lightweight handles into the arena and stay valid only while their node
// exists.
package tree

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/ironpass/crypto"
)

// NodeID addresses a node in the tree arena.
type NodeID uint64

type parentRef struct {
	root bool
	id   NodeID
}

type nodeKind uint8

const (
	kindDirectory nodeKind = iota
	kindPassword
)

type node struct {
	kind   nodeKind
	name   string
	parent parentRef

	dirs       map[string]NodeID
	passwords  map[string]NodeID
	recipients crypto.RecipientSet

	ciphertext []byte

	// busy counts the cascades currently holding this node as a lock root.
	busy int
}

// KeyResolver maps recipient ids to public keys. *crypto.Keyring implements it.
type KeyResolver interface {
	Lookup(id crypto.KeyID) (crypto.PublicKey, error)
	PublicKeys(ids crypto.RecipientSet) ([]crypto.PublicKey, error)
}

// KeySource hands out unlocked private keys. *keycache.Cache implements it.
type KeySource interface {
	GetAny(ids []crypto.KeyID) (crypto.KeyID, crypto.PrivateKey, bool)
}

// Stager receives every file-level effect of a tree mutation, using the
// remote file naming of the store: "a/b/name.gpg" for passwords and
// "a/b/.gpg-id" for directories with their own recipients.
type Stager interface {
	StageCreate(path string, data []byte)
	StageDelete(path string)
	StageMove(from, to string)
	StageChangeContent(path string, data []byte)
}

// File name suffixes of the remote layout.
const (
	PasswordSuffix = ".gpg"
	RecipientsFile = ".gpg-id"
)

// Tree is a hierarchical secret store rooted at a directory that always has
// its own recipients.
type Tree struct {
	mu    sync.Mutex
	nodes map[NodeID]*node
	next  NodeID
	root  NodeID

	provider crypto.Provider
	keys     KeyResolver
	unlocked KeySource
	stager   Stager
	logger   *slog.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithStager reports file-level effects to s.
func WithStager(s Stager) Option {
	return func(t *Tree) {
		t.stager = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) {
		t.logger = l
	}
}

// New returns a tree whose root is encrypted to rootRecipients.
func New(provider crypto.Provider, keys KeyResolver, unlocked KeySource, rootRecipients crypto.RecipientSet, opts ...Option) *Tree {
	t := &Tree{
		provider: provider,
		keys:     keys,
		unlocked: unlocked,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.nodes, t.root = newArena(rootRecipients, &t.next)
	return t
}

func newArena(rootRecipients crypto.RecipientSet, next *NodeID) (map[NodeID]*node, NodeID) {
	*next++
	id := *next
	if rootRecipients == nil {
		rootRecipients = crypto.RecipientSet{}
	}
	nodes := map[NodeID]*node{
		id: {
			kind:       kindDirectory,
			parent:     parentRef{root: true},
			dirs:       make(map[string]NodeID),
			passwords:  make(map[string]NodeID),
			recipients: rootRecipients.Clone(),
		},
	}
	return nodes, id
}

// Root returns the root directory.
func (t *Tree) Root() *Directory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Directory{t: t, id: t.root}
}

// Entry is a flattened view of one node, used to snapshot and restore a tree.
// Directory paths end in "/"; password paths do not.
type Entry struct {
	Path       string              `json:"path"`
	Dir        bool                `json:"dir,omitempty"`
	Recipients crypto.RecipientSet `json:"recipients,omitempty"`
	Ciphertext []byte              `json:"ciphertext,omitempty"`
}

// Walk calls fn for every node in depth-first, name-sorted order, starting
// with the root. The entries are captured atomically before fn is called.
func (t *Tree) Walk(fn func(Entry) error) error {
	t.mu.Lock()
	var entries []Entry
	t.walkLocked(t.root, func(id NodeID, n *node) {
		e := Entry{Path: t.pathLocked(id), Dir: n.kind == kindDirectory}
		if e.Dir {
			e.Recipients = n.recipients.Clone()
		} else {
			e.Ciphertext = n.ciphertext
		}
		entries = append(entries, e)
	})
	t.mu.Unlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the whole tree with entries without re-encrypting anything
// and without notifying the stager. Missing intermediate directories are
// created. An entry for "/" sets the root recipients; otherwise the current
// root recipients are kept.
func (t *Tree) Load(entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subtreeBusyLocked(t.root) {
		return ErrSubtreeBusy
	}

	next := t.next
	nodes, root := newArena(t.nodes[t.root].recipients, &next)
	b := &builder{nodes: nodes, root: root, next: &next}

	for _, e := range entries {
		segs := SplitPath(e.Path)
		if e.Dir || len(segs) == 0 {
			dir, err := b.dir(segs)
			if err != nil {
				return fmt.Errorf("loading %s: %w", e.Path, err)
			}
			if e.Recipients != nil {
				nodes[dir].recipients = crypto.NewRecipientSet(e.Recipients...)
			}
			continue
		}
		parent, err := b.dir(segs[:len(segs)-1])
		if err != nil {
			return fmt.Errorf("loading %s: %w", e.Path, err)
		}
		name := segs[len(segs)-1]
		if err := ValidateName(name); err != nil {
			return fmt.Errorf("loading %s: %w", e.Path, err)
		}
		p := nodes[parent]
		if _, ok := p.passwords[name]; ok {
			return fmt.Errorf("loading %s: %w", e.Path, ErrEntryExists)
		}
		next++
		nodes[next] = &node{
			kind:       kindPassword,
			name:       name,
			parent:     parentRef{id: parent},
			ciphertext: e.Ciphertext,
		}
		p.passwords[name] = next
	}

	t.nodes, t.root, t.next = nodes, root, next
	t.logger.Info("tree loaded", "count", len(entries))
	return nil
}

type builder struct {
	nodes map[NodeID]*node
	root  NodeID
	next  *NodeID
}

func (b *builder) dir(segs []string) (NodeID, error) {
	cur := b.root
	for _, s := range segs {
		if err := ValidateName(s); err != nil {
			return 0, err
		}
		n := b.nodes[cur]
		if id, ok := n.dirs[s]; ok {
			cur = id
			continue
		}
		*b.next++
		id := *b.next
		b.nodes[id] = &node{
			kind:      kindDirectory,
			name:      s,
			parent:    parentRef{id: cur},
			dirs:      make(map[string]NodeID),
			passwords: make(map[string]NodeID),
		}
		n.dirs[s] = id
		cur = id
	}
	return cur, nil
}

func (t *Tree) newIDLocked() NodeID {
	t.next++
	return t.next
}

func (t *Tree) nodeLocked(id NodeID, kind nodeKind) (*node, error) {
	n, ok := t.nodes[id]
	if !ok || n.kind != kind {
		return nil, ErrEntryNotFound
	}
	return n, nil
}

func (t *Tree) walkLocked(id NodeID, fn func(NodeID, *node)) {
	n := t.nodes[id]
	fn(id, n)
	if n.kind != kindDirectory {
		return
	}
	for _, name := range sortedNames(n.passwords) {
		t.walkLocked(n.passwords[name], fn)
	}
	for _, name := range sortedNames(n.dirs) {
		t.walkLocked(n.dirs[name], fn)
	}
}

func sortedNames(m map[string]NodeID) []string {
	return slices.Sorted(maps.Keys(m))
}

// pathLocked renders "/a/b/" for directories and "/a/b/name" for passwords.
func (t *Tree) pathLocked(id NodeID) string {
	var segs []string
	n := t.nodes[id]
	for cur := n; !cur.parent.root; cur = t.nodes[cur.parent.id] {
		segs = append(segs, cur.name)
	}
	slices.Reverse(segs)
	p := "/" + strings.Join(segs, "/")
	if n.kind == kindDirectory && len(segs) > 0 {
		p += "/"
	}
	return p
}

// filePathLocked renders the remote file path of a password or of a
// directory's recipients file.
func (t *Tree) filePathLocked(id NodeID) string {
	p := strings.TrimPrefix(t.pathLocked(id), "/")
	if t.nodes[id].kind == kindDirectory {
		return p + RecipientsFile
	}
	return p + PasswordSuffix
}

// effectiveLocked returns the nearest explicit recipient set, starting at id
// for directories and at the parent for passwords.
func (t *Tree) effectiveLocked(id NodeID) crypto.RecipientSet {
	n := t.nodes[id]
	if n.kind == kindPassword {
		n = t.nodes[n.parent.id]
	}
	for n.recipients == nil {
		n = t.nodes[n.parent.id]
	}
	return n.recipients
}

// busyLocked reports whether id or any ancestor is held by a cascade.
func (t *Tree) busyLocked(id NodeID) bool {
	for n := t.nodes[id]; ; n = t.nodes[n.parent.id] {
		if n.busy > 0 {
			return true
		}
		if n.parent.root {
			return false
		}
	}
}

// subtreeBusyLocked reports whether id lies in, or contains, a locked subtree.
func (t *Tree) subtreeBusyLocked(id NodeID) bool {
	if t.busyLocked(id) {
		return true
	}
	busy := false
	t.walkLocked(id, func(_ NodeID, n *node) {
		busy = busy || n.busy > 0
	})
	return busy
}

// isWithinLocked reports whether id equals ancestor or lies beneath it.
func (t *Tree) isWithinLocked(id, ancestor NodeID) bool {
	for {
		if id == ancestor {
			return true
		}
		n := t.nodes[id]
		if n.parent.root {
			return false
		}
		id = n.parent.id
	}
}

func (t *Tree) detachLocked(id NodeID) {
	n := t.nodes[id]
	if n.parent.root {
		return
	}
	p := t.nodes[n.parent.id]
	if n.kind == kindDirectory {
		delete(p.dirs, n.name)
	} else {
		delete(p.passwords, n.name)
	}
}

func (t *Tree) attachLocked(id, parent NodeID, name string) {
	n := t.nodes[id]
	p := t.nodes[parent]
	n.name = name
	n.parent = parentRef{id: parent}
	if n.kind == kindDirectory {
		p.dirs[name] = id
	} else {
		p.passwords[name] = id
	}
}

// removeLocked drops id and its descendants from the arena.
func (t *Tree) removeLocked(id NodeID) {
	t.detachLocked(id)
	var ids []NodeID
	t.walkLocked(id, func(id NodeID, _ *node) { ids = append(ids, id) })
	for _, id := range ids {
		delete(t.nodes, id)
	}
}

// collidingLocked returns the entry of the same kind named name in parent.
func (t *Tree) collidingLocked(parent NodeID, kind nodeKind, name string) (NodeID, bool) {
	p := t.nodes[parent]
	if kind == kindDirectory {
		id, ok := p.dirs[name]
		return id, ok
	}
	id, ok := p.passwords[name]
	return id, ok
}

type stagedFile struct {
	path string
	data []byte
}

// filesLocked lists the remote files of the subtree at id: every password
// and the recipients file of every directory with its own recipients.
func (t *Tree) filesLocked(id NodeID) []stagedFile {
	var files []stagedFile
	t.walkLocked(id, func(id NodeID, n *node) {
		switch {
		case n.kind == kindPassword:
			files = append(files, stagedFile{path: t.filePathLocked(id), data: n.ciphertext})
		case n.recipients != nil:
			files = append(files, stagedFile{path: t.filePathLocked(id), data: recipientsFileContent(n.recipients)})
		}
	})
	return files
}

func recipientsFileContent(ids crypto.RecipientSet) []byte {
	return []byte(ids.String() + "\n")
}

// affectedLocked lists the passwords whose recipients are inherited through
// id: the passwords of id itself and of every descendant directory that does
// not define its own recipients. The recipients of id itself are ignored.
func (t *Tree) affectedLocked(id NodeID) []NodeID {
	n := t.nodes[id]
	if n.kind == kindPassword {
		return []NodeID{id}
	}
	var out []NodeID
	for _, name := range sortedNames(n.passwords) {
		out = append(out, n.passwords[name])
	}
	for _, name := range sortedNames(n.dirs) {
		child := n.dirs[name]
		if t.nodes[child].recipients != nil {
			continue
		}
		out = append(out, t.affectedLocked(child)...)
	}
	return out
}

func (t *Tree) stage(fn func(s Stager)) {
	if t.stager != nil {
		fn(t.stager)
	}
}

// publicKeys resolves recipients, failing with crypto.ErrUnknownRecipient.
func (t *Tree) publicKeys(ids crypto.RecipientSet) ([]crypto.PublicKey, error) {
	pubs, err := t.keys.PublicKeys(ids)
	if err != nil {
		return nil, err
	}
	return pubs, nil
}

// privateKey returns an unlocked key able to open ciphertext. The key ids
// recorded in the ciphertext are authoritative; the recipients in eff are
// only consulted when there is no ciphertext to inspect.
func (t *Tree) privateKey(eff crypto.RecipientSet, ciphertext []byte) (crypto.PrivateKey, error) {
	var candidates []crypto.KeyID
	if ciphertext != nil {
		if ids, err := t.provider.KeyIDsOf(ciphertext); err == nil {
			candidates = ids
		}
	}
	if candidates == nil {
		for _, id := range eff {
			if pub, err := t.keys.Lookup(id); err == nil {
				candidates = append(candidates, pub.Fingerprint())
			}
		}
	}
	_, key, ok := t.unlocked.GetAny(candidates)
	if !ok {
		return nil, fmt.Errorf("%w for recipients %s", ErrNoUnlockedKey, eff)
	}
	return key, nil
}

func (t *Tree) encrypt(content []byte, recipients crypto.RecipientSet) ([]byte, error) {
	pubs, err := t.publicKeys(recipients)
	if err != nil {
		return nil, err
	}
	return t.provider.Encrypt(content, pubs)
}

func (t *Tree) decrypt(ciphertext []byte, recipients crypto.RecipientSet) ([]byte, error) {
	key, err := t.privateKey(recipients, ciphertext)
	if err != nil {
		return nil, err
	}
	return t.provider.Decrypt(ciphertext, key)
}
