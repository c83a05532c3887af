package tree

import (
	"context"
	"fmt"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/internal/util"
)

// A cascade runs in three steps. The plan is taken under the tree lock and
// the lock roots are marked busy. Decryption and re-encryption run without
// the tree lock. The results are applied in one step under the lock, or
// discarded entirely if any password failed.
type cascade struct {
	ids         []NodeID
	ciphertexts [][]byte
	from        crypto.RecipientSet
	to          []crypto.PublicKey
	locks       []NodeID
}

func (t *Tree) planLocked(ids []NodeID, from crypto.RecipientSet, to []crypto.PublicKey, locks ...NodeID) *cascade {
	c := &cascade{ids: ids, from: from, to: to, locks: locks}
	for _, id := range ids {
		c.ciphertexts = append(c.ciphertexts, t.nodes[id].ciphertext)
	}
	for _, id := range locks {
		t.nodes[id].busy++
	}
	return c
}

func (t *Tree) releaseLocked(c *cascade) {
	for _, id := range c.locks {
		if n, ok := t.nodes[id]; ok {
			n.busy--
		}
	}
}

// run re-encrypts every planned password. It must be called without the
// tree lock held.
func (t *Tree) run(ctx context.Context, c *cascade) (map[NodeID][]byte, error) {
	out := make(map[NodeID][]byte, len(c.ids))
	for i, id := range c.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ct := c.ciphertexts[i]
		key, err := t.privateKey(c.from, ct)
		if err != nil {
			return nil, err
		}
		plain, err := t.provider.Decrypt(ct, key)
		if err != nil {
			return nil, fmt.Errorf("decrypting for re-encryption: %w", err)
		}
		reencrypted, err := t.provider.Encrypt(plain, c.to)
		util.WipeBytes(plain)
		if err != nil {
			return nil, fmt.Errorf("re-encrypting: %w", err)
		}
		out[id] = reencrypted
	}
	return out, nil
}

// execute runs a planned cascade and, on success, calls apply under the tree
// lock. The tree lock must not be held by the caller.
func (t *Tree) execute(ctx context.Context, c *cascade, apply func(results map[NodeID][]byte)) error {
	results, err := t.run(ctx, c)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(c)
	if err != nil {
		t.logger.Warn("cascade aborted", "count", len(c.ids), "error", err)
		return err
	}
	apply(results)
	t.logger.Info("cascade complete", "count", len(c.ids))
	return nil
}
