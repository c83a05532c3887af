package tree

import (
	"context"
	"fmt"

	"github.com/jmcleod/ironpass/crypto"
)

// Directory is a handle to a directory node.
type Directory struct {
	t  *Tree
	id NodeID
}

// ID returns the arena id of the directory.
func (d *Directory) ID() NodeID { return d.id }

// Name returns the directory name, "" for the root or a removed directory.
func (d *Directory) Name() string {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if n, err := d.t.nodeLocked(d.id, kindDirectory); err == nil {
		return n.name
	}
	return ""
}

// Path returns "/" for the root and "/a/b/" otherwise, or "" once removed.
func (d *Directory) Path() string {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if _, err := d.t.nodeLocked(d.id, kindDirectory); err != nil {
		return ""
	}
	return d.t.pathLocked(d.id)
}

// IsRoot reports whether d is the root directory.
func (d *Directory) IsRoot() bool {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	return err == nil && n.parent.root
}

// Exists reports whether the directory is still part of the tree.
func (d *Directory) Exists() bool {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	_, err := d.t.nodeLocked(d.id, kindDirectory)
	return err == nil
}

// Parent returns the containing directory, or nil for the root.
func (d *Directory) Parent() *Directory {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil || n.parent.root {
		return nil
	}
	return &Directory{t: d.t, id: n.parent.id}
}

// Directory returns the child directory called name.
func (d *Directory) Directory(name string) (*Directory, error) {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil, err
	}
	id, ok := n.dirs[name]
	if !ok {
		return nil, fmt.Errorf("directory %s%s: %w", d.t.pathLocked(d.id), name, ErrEntryNotFound)
	}
	return &Directory{t: d.t, id: id}, nil
}

// Password returns the password called name.
func (d *Directory) Password(name string) (*Password, error) {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil, err
	}
	id, ok := n.passwords[name]
	if !ok {
		return nil, fmt.Errorf("password %s%s: %w", d.t.pathLocked(d.id), name, ErrEntryNotFound)
	}
	return &Password{t: d.t, id: id}, nil
}

// Directories returns the child directories sorted by name.
func (d *Directory) Directories() []*Directory {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil
	}
	out := make([]*Directory, 0, len(n.dirs))
	for _, name := range sortedNames(n.dirs) {
		out = append(out, &Directory{t: d.t, id: n.dirs[name]})
	}
	return out
}

// Passwords returns the passwords sorted by name.
func (d *Directory) Passwords() []*Password {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil
	}
	out := make([]*Password, 0, len(n.passwords))
	for _, name := range sortedNames(n.passwords) {
		out = append(out, &Password{t: d.t, id: n.passwords[name]})
	}
	return out
}

// AddDirectory creates a child directory. It fails with ErrEntryExists if
// the name is taken; use AddDirectoryRecursive for idempotent creation.
func (d *Directory) AddDirectory(name string) (*Directory, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil, err
	}
	if d.t.busyLocked(d.id) {
		return nil, ErrSubtreeBusy
	}
	if _, ok := n.dirs[name]; ok {
		return nil, fmt.Errorf("directory %s%s: %w", d.t.pathLocked(d.id), name, ErrEntryExists)
	}
	return &Directory{t: d.t, id: d.t.addDirectoryLocked(d.id, name)}, nil
}

func (t *Tree) addDirectoryLocked(parent NodeID, name string) NodeID {
	id := t.newIDLocked()
	t.nodes[id] = &node{
		kind:      kindDirectory,
		dirs:      make(map[string]NodeID),
		passwords: make(map[string]NodeID),
	}
	t.attachLocked(id, parent, name)
	return id
}

// AddDirectoryRecursive walks path relative to d, reusing existing
// directories and creating missing ones, and returns the last one.
func (d *Directory) AddDirectoryRecursive(path string) (*Directory, error) {
	segs := SplitPath(path)
	for _, s := range segs {
		if err := ValidateName(s); err != nil {
			return nil, err
		}
	}
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if _, err := d.t.nodeLocked(d.id, kindDirectory); err != nil {
		return nil, err
	}

	cur := d.id
	for i, s := range segs {
		if id, ok := d.t.nodes[cur].dirs[s]; ok {
			cur = id
			continue
		}
		if d.t.busyLocked(cur) {
			return nil, ErrSubtreeBusy
		}
		for _, rest := range segs[i:] {
			cur = d.t.addDirectoryLocked(cur, rest)
		}
		break
	}
	return &Directory{t: d.t, id: cur}, nil
}

// AddPassword encrypts content to the effective recipients of d and links
// the new password under name.
func (d *Directory) AddPassword(ctx context.Context, name string, content []byte) (*Password, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := d.t
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		return nil, err
	}
	if t.busyLocked(d.id) {
		return nil, ErrSubtreeBusy
	}
	if _, ok := n.passwords[name]; ok {
		return nil, fmt.Errorf("password %s%s: %w", t.pathLocked(d.id), name, ErrEntryExists)
	}

	ct, err := t.encrypt(content, t.effectiveLocked(d.id))
	if err != nil {
		return nil, err
	}

	id := t.newIDLocked()
	t.nodes[id] = &node{kind: kindPassword, ciphertext: ct}
	t.attachLocked(id, d.id, name)
	path := t.filePathLocked(id)
	t.stage(func(s Stager) { s.StageCreate(path, ct) })
	return &Password{t: t, id: id}, nil
}

// OwnRecipients returns the recipients set explicitly on d, if any.
func (d *Directory) OwnRecipients() (crypto.RecipientSet, bool) {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	n, err := d.t.nodeLocked(d.id, kindDirectory)
	if err != nil || n.recipients == nil {
		return nil, false
	}
	return n.recipients.Clone(), true
}

// EffectiveRecipients returns the nearest explicit recipient set walking
// from d toward the root.
func (d *Directory) EffectiveRecipients() (crypto.RecipientSet, error) {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if _, err := d.t.nodeLocked(d.id, kindDirectory); err != nil {
		return nil, err
	}
	return d.t.effectiveLocked(d.id).Clone(), nil
}

// UnlockedPrivateKey returns a cached private key for any of the effective
// recipients of d.
func (d *Directory) UnlockedPrivateKey() (crypto.PrivateKey, error) {
	eff, err := d.EffectiveRecipients()
	if err != nil {
		return nil, err
	}
	return d.t.privateKey(eff, nil)
}

// SetRecipients makes ids the own recipients of d and re-encrypts every
// password that inherits them. Subtrees with their own recipients are left
// alone. Nothing changes unless every password was re-encrypted.
func (d *Directory) SetRecipients(ctx context.Context, ids []crypto.KeyID) error {
	set := crypto.NewRecipientSet(ids...)
	if len(set) == 0 {
		return crypto.ErrNoRecipients
	}

	t := d.t
	t.mu.Lock()
	n, err := t.nodeLocked(d.id, kindDirectory)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if t.subtreeBusyLocked(d.id) {
		t.mu.Unlock()
		return ErrSubtreeBusy
	}
	pubs, err := t.publicKeys(set)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	hadOwn := n.recipients != nil
	if hadOwn && n.recipients.Equal(set) {
		t.mu.Unlock()
		return nil
	}
	old := t.effectiveLocked(d.id)
	var affected []NodeID
	if !old.Equal(set) {
		affected = t.affectedLocked(d.id)
	}
	c := t.planLocked(affected, old, pubs, d.id)
	t.mu.Unlock()

	return t.execute(ctx, c, func(results map[NodeID][]byte) {
		n := t.nodes[d.id]
		n.recipients = set
		for _, id := range c.ids {
			t.nodes[id].ciphertext = results[id]
		}

		idsPath := t.filePathLocked(d.id)
		content := recipientsFileContent(set)
		changed := make([]stagedFile, 0, len(c.ids))
		for _, id := range c.ids {
			changed = append(changed, stagedFile{path: t.filePathLocked(id), data: results[id]})
		}
		t.stage(func(s Stager) {
			if hadOwn {
				s.StageChangeContent(idsPath, content)
			} else {
				s.StageCreate(idsPath, content)
			}
			for _, f := range changed {
				s.StageChangeContent(f.path, f.data)
			}
		})
	})
}

// Move re-parents d under dst. See Tree semantics on Password.Move.
func (d *Directory) Move(ctx context.Context, dst *Directory, force bool) error {
	return d.t.move(ctx, d.id, kindDirectory, dst.id, "", force)
}

// MoveAs re-parents d under dst and renames it to name in one step. An
// empty name keeps the current one.
func (d *Directory) MoveAs(ctx context.Context, dst *Directory, name string, force bool) error {
	return d.t.move(ctx, d.id, kindDirectory, dst.id, name, force)
}

// Copy deep-copies d under dst, leaving d untouched.
func (d *Directory) Copy(ctx context.Context, dst *Directory, force bool) (*Directory, error) {
	return d.CopyAs(ctx, dst, "", force)
}

// CopyAs deep-copies d under dst as name. An empty name keeps the current one.
func (d *Directory) CopyAs(ctx context.Context, dst *Directory, name string, force bool) (*Directory, error) {
	id, err := d.t.copy(ctx, d.id, kindDirectory, dst.id, name, force)
	if err != nil {
		return nil, err
	}
	return &Directory{t: d.t, id: id}, nil
}

// Rename changes the name of d within its parent.
func (d *Directory) Rename(ctx context.Context, name string) error {
	return d.t.rename(ctx, d.id, kindDirectory, name)
}

// Remove deletes d and everything beneath it.
func (d *Directory) Remove() error {
	return d.t.remove(d.id, kindDirectory)
}

// Walk visits every password beneath d in deterministic order.
func (d *Directory) Walk(fn func(*Password) error) error {
	d.t.mu.Lock()
	if _, err := d.t.nodeLocked(d.id, kindDirectory); err != nil {
		d.t.mu.Unlock()
		return err
	}
	var ids []NodeID
	d.t.walkLocked(d.id, func(id NodeID, n *node) {
		if n.kind == kindPassword {
			ids = append(ids, id)
		}
	})
	d.t.mu.Unlock()

	for _, id := range ids {
		if err := fn(&Password{t: d.t, id: id}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) move(ctx context.Context, id NodeID, kind nodeKind, dst NodeID, name string, force bool) error {
	t.mu.Lock()
	n, err := t.nodeLocked(id, kind)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if name == "" {
		name = n.name
	}
	collision, err := t.checkRelocateLocked(id, kind, dst, name, force)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if collision == id {
		t.mu.Unlock()
		return nil
	}

	c, err := t.planRelocateLocked(id, kind, dst)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if c == nil {
		t.applyMoveLocked(id, dst, name, collision, nil, nil)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.execute(ctx, c, func(results map[NodeID][]byte) {
		t.applyMoveLocked(id, dst, name, collision, c.ids, results)
	})
}

func (t *Tree) copy(ctx context.Context, id NodeID, kind nodeKind, dst NodeID, name string, force bool) (NodeID, error) {
	t.mu.Lock()
	n, err := t.nodeLocked(id, kind)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if name == "" {
		name = n.name
	}
	collision, err := t.checkRelocateLocked(id, kind, dst, name, force)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if collision == id {
		t.mu.Unlock()
		return id, nil
	}

	c, err := t.planRelocateLocked(id, kind, dst)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if c == nil {
		created := t.applyCopyLocked(id, dst, name, collision, nil)
		t.mu.Unlock()
		return created, nil
	}
	t.mu.Unlock()

	var created NodeID
	err = t.execute(ctx, c, func(results map[NodeID][]byte) {
		created = t.applyCopyLocked(id, dst, name, collision, results)
	})
	return created, err
}

func (t *Tree) rename(ctx context.Context, id NodeID, kind nodeKind, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	t.mu.Lock()
	n, err := t.nodeLocked(id, kind)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if n.parent.root {
		t.mu.Unlock()
		return fmt.Errorf("rename root: %w", ErrInvalidName)
	}
	parent := n.parent.id
	t.mu.Unlock()
	return t.move(ctx, id, kind, parent, name, false)
}

// checkRelocateLocked validates a move or copy of id into dst under name and
// returns the colliding entry, which is id itself for a no-op, or 0.
func (t *Tree) checkRelocateLocked(id NodeID, kind nodeKind, dst NodeID, name string, force bool) (NodeID, error) {
	if t.nodes[id].parent.root {
		return 0, ErrMoveIntoSelf
	}
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if _, err := t.nodeLocked(dst, kindDirectory); err != nil {
		return 0, fmt.Errorf("destination: %w", err)
	}
	if kind == kindDirectory && t.isWithinLocked(dst, id) {
		return 0, fmt.Errorf("%s into %s: %w", t.pathLocked(id), t.pathLocked(dst), ErrMoveIntoSelf)
	}
	if t.subtreeBusyLocked(id) || t.busyLocked(dst) {
		return 0, ErrSubtreeBusy
	}

	collision, exists := t.collidingLocked(dst, kind, name)
	if !exists {
		return 0, nil
	}
	if collision == id {
		return id, nil
	}
	if !force {
		return 0, fmt.Errorf("%s%s: %w", t.pathLocked(dst), name, ErrEntryExists)
	}
	if t.isWithinLocked(id, collision) {
		return 0, fmt.Errorf("%s contains the source: %w", t.pathLocked(collision), ErrEntryExists)
	}
	if t.subtreeBusyLocked(collision) {
		return 0, ErrSubtreeBusy
	}
	return collision, nil
}

// planRelocateLocked plans the re-encryption needed when id lands under dst.
// It returns nil when the effective recipients do not change.
func (t *Tree) planRelocateLocked(id NodeID, kind nodeKind, dst NodeID) (*cascade, error) {
	n := t.nodes[id]
	if kind == kindDirectory && n.recipients != nil {
		return nil, nil
	}
	oldEff := t.effectiveLocked(n.parent.id)
	newEff := t.effectiveLocked(dst)
	if oldEff.Equal(newEff) {
		return nil, nil
	}
	affected := t.affectedLocked(id)
	if len(affected) == 0 {
		return nil, nil
	}
	pubs, err := t.publicKeys(newEff)
	if err != nil {
		return nil, err
	}
	return t.planLocked(affected, oldEff, pubs, id, dst), nil
}

func (t *Tree) removeCollisionLocked(collision NodeID) []string {
	if collision == 0 {
		return nil
	}
	var paths []string
	for _, f := range t.filesLocked(collision) {
		paths = append(paths, f.path)
	}
	t.removeLocked(collision)
	return paths
}

func (t *Tree) applyMoveLocked(id, dst NodeID, name string, collision NodeID, changed []NodeID, results map[NodeID][]byte) {
	deleted := t.removeCollisionLocked(collision)
	before := t.filesLocked(id)

	t.detachLocked(id)
	t.attachLocked(id, dst, name)
	for _, cid := range changed {
		t.nodes[cid].ciphertext = results[cid]
	}

	after := t.filesLocked(id)
	updates := make([]stagedFile, 0, len(changed))
	for _, cid := range changed {
		updates = append(updates, stagedFile{path: t.filePathLocked(cid), data: results[cid]})
	}
	t.stage(func(s Stager) {
		for _, p := range deleted {
			s.StageDelete(p)
		}
		for i := range before {
			s.StageMove(before[i].path, after[i].path)
		}
		for _, f := range updates {
			s.StageChangeContent(f.path, f.data)
		}
	})
}

func (t *Tree) applyCopyLocked(id, dst NodeID, name string, collision NodeID, results map[NodeID][]byte) NodeID {
	deleted := t.removeCollisionLocked(collision)
	created := t.cloneLocked(id, dst, name, results)
	files := t.filesLocked(created)
	t.stage(func(s Stager) {
		for _, p := range deleted {
			s.StageDelete(p)
		}
		for _, f := range files {
			s.StageCreate(f.path, f.data)
		}
	})
	return created
}

// cloneLocked deep-copies src under parent. Ciphertexts are shared with the
// source unless replaced by results.
func (t *Tree) cloneLocked(src, parent NodeID, name string, results map[NodeID][]byte) NodeID {
	n := t.nodes[src]
	id := t.newIDLocked()
	c := &node{
		kind:       n.kind,
		recipients: n.recipients.Clone(),
		ciphertext: n.ciphertext,
	}
	if ct, ok := results[src]; ok {
		c.ciphertext = ct
	}
	if n.kind == kindDirectory {
		c.dirs = make(map[string]NodeID, len(n.dirs))
		c.passwords = make(map[string]NodeID, len(n.passwords))
	}
	t.nodes[id] = c
	t.attachLocked(id, parent, name)

	if n.kind == kindDirectory {
		for _, child := range sortedNames(n.passwords) {
			t.cloneLocked(n.passwords[child], id, child, results)
		}
		for _, child := range sortedNames(n.dirs) {
			t.cloneLocked(n.dirs[child], id, child, results)
		}
	}
	return id
}

func (t *Tree) remove(id NodeID, kind nodeKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.nodeLocked(id, kind)
	if err != nil {
		return err
	}
	if n.parent.root {
		return ErrCannotRemoveRoot
	}
	if t.subtreeBusyLocked(id) {
		return ErrSubtreeBusy
	}
	files := t.filesLocked(id)
	t.removeLocked(id)
	t.stage(func(s Stager) {
		for _, f := range files {
			s.StageDelete(f.path)
		}
	})
	return nil
}
