package tree

import (
	"context"

	"github.com/jmcleod/ironpass/crypto"
)

// Password is a handle to an encrypted secret.
type Password struct {
	t  *Tree
	id NodeID
}

// ID returns the arena id of the password.
func (p *Password) ID() NodeID { return p.id }

// Name returns the password name, or "" once removed.
func (p *Password) Name() string {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if n, err := p.t.nodeLocked(p.id, kindPassword); err == nil {
		return n.name
	}
	return ""
}

// Path returns "/a/b/name", or "" once removed.
func (p *Password) Path() string {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if _, err := p.t.nodeLocked(p.id, kindPassword); err != nil {
		return ""
	}
	return p.t.pathLocked(p.id)
}

// Exists reports whether the password is still part of the tree.
func (p *Password) Exists() bool {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	_, err := p.t.nodeLocked(p.id, kindPassword)
	return err == nil
}

// Directory returns the containing directory.
func (p *Password) Directory() (*Directory, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	n, err := p.t.nodeLocked(p.id, kindPassword)
	if err != nil {
		return nil, err
	}
	return &Directory{t: p.t, id: n.parent.id}, nil
}

// Ciphertext returns the encrypted content.
func (p *Password) Ciphertext() ([]byte, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	n, err := p.t.nodeLocked(p.id, kindPassword)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), n.ciphertext...), nil
}

// KeyIDs returns the key ids the ciphertext is actually encrypted to.
func (p *Password) KeyIDs() ([]crypto.KeyID, error) {
	ct, err := p.Ciphertext()
	if err != nil {
		return nil, err
	}
	return p.t.provider.KeyIDsOf(ct)
}

func (p *Password) snapshot() ([]byte, crypto.RecipientSet, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	n, err := p.t.nodeLocked(p.id, kindPassword)
	if err != nil {
		return nil, nil, err
	}
	return n.ciphertext, p.t.effectiveLocked(p.id), nil
}

// Content decrypts the password with any unlocked key of its recipients.
func (p *Password) Content(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct, eff, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	return p.t.decrypt(ct, eff)
}

// IsDecryptable reports whether an unlocked key is available for the password.
func (p *Password) IsDecryptable() bool {
	ct, eff, err := p.snapshot()
	if err != nil {
		return false
	}
	_, err = p.t.privateKey(eff, ct)
	return err == nil
}

// SetContent encrypts content to the effective recipients of the containing
// directory. The ciphertext is only replaced once encryption succeeded.
func (p *Password) SetContent(ctx context.Context, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := p.t
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.nodeLocked(p.id, kindPassword)
	if err != nil {
		return err
	}
	if t.busyLocked(p.id) {
		return ErrSubtreeBusy
	}
	ct, err := t.encrypt(content, t.effectiveLocked(p.id))
	if err != nil {
		return err
	}
	n.ciphertext = ct
	path := t.filePathLocked(p.id)
	t.stage(func(s Stager) { s.StageChangeContent(path, ct) })
	return nil
}

// Move re-parents the password under dst, keeping its name. With force an
// existing password of that name in dst is replaced; without it the move
// fails with ErrEntryExists. If dst resolves to different recipients the
// password is re-encrypted, and the move only happens if that succeeds.
func (p *Password) Move(ctx context.Context, dst *Directory, force bool) error {
	return p.t.move(ctx, p.id, kindPassword, dst.id, "", force)
}

// MoveAs is Move with a new name; an empty name keeps the current one.
func (p *Password) MoveAs(ctx context.Context, dst *Directory, name string, force bool) error {
	return p.t.move(ctx, p.id, kindPassword, dst.id, name, force)
}

// Copy duplicates the password under dst with the same collision rules as Move.
func (p *Password) Copy(ctx context.Context, dst *Directory, force bool) (*Password, error) {
	return p.CopyAs(ctx, dst, "", force)
}

// CopyAs is Copy with a new name; an empty name keeps the current one.
func (p *Password) CopyAs(ctx context.Context, dst *Directory, name string, force bool) (*Password, error) {
	id, err := p.t.copy(ctx, p.id, kindPassword, dst.id, name, force)
	if err != nil {
		return nil, err
	}
	return &Password{t: p.t, id: id}, nil
}

// Rename changes the name of the password within its directory.
func (p *Password) Rename(ctx context.Context, name string) error {
	return p.t.rename(ctx, p.id, kindPassword, name)
}

// Remove deletes the password.
func (p *Password) Remove() error {
	return p.t.remove(p.id, kindPassword)
}
