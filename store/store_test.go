package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/mirror/memory"
	"github.com/jmcleod/ironpass/storage"
	storagememory "github.com/jmcleod/ironpass/storage/memory"
	"github.com/jmcleod/ironpass/tree"
)

const passphrase = "correct horse"

type testKeys struct {
	pubs   map[string]crypto.PublicKey
	locked map[string]crypto.LockedKey
}

func newTestKeys(t *testing.T, names ...string) *testKeys {
	t.Helper()
	k := &testKeys{pubs: make(map[string]crypto.PublicKey), locked: make(map[string]crypto.LockedKey)}
	for _, name := range names {
		pub, locked, err := crypto.GenerateKey(name, passphrase, crypto.WithArgon2idParams(crypto.InteractiveArgon2idParams()))
		require.NoError(t, err)
		k.pubs[name] = pub
		k.locked[name] = locked
	}
	return k
}

func (k *testKeys) id(name string) crypto.KeyID { return k.pubs[name].ShortID() }

func (k *testKeys) keyring(t *testing.T, opts ...crypto.KeyringOption) *crypto.Keyring {
	t.Helper()
	kr := crypto.NewKeyring(opts...)
	for _, l := range k.locked {
		require.NoError(t, kr.ImportLocked(l))
	}
	return kr
}

func newTestStore(t *testing.T, keys *testKeys, opts ...Option) *Store {
	t.Helper()
	s := New(crypto.NewX25519(), keys.keyring(t), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestStore_UnlockInsertShow(t *testing.T) {
	keys := newTestKeys(t, "alice")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()

	_, err := s.Unlock(ctx, keys.id("alice"), "wrong")
	require.ErrorIs(t, err, crypto.ErrWrongPassphrase)
	assert.Empty(t, s.Unlocked())

	_, err = s.Unlock(ctx, "0123456789ABCDEF", passphrase)
	require.ErrorIs(t, err, crypto.ErrUnknownRecipient)

	fp, err := s.Unlock(ctx, keys.id("alice"), passphrase)
	require.NoError(t, err)
	assert.True(t, fp.Equal(keys.pubs["alice"].Fingerprint()))
	assert.Len(t, s.Unlocked(), 1)

	p, err := s.Insert(ctx, "/web/github", []byte("hunter2"), false)
	require.NoError(t, err)
	assert.Equal(t, "/web/github", p.Path())

	got, err := s.Show(ctx, "/web/github")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))

	_, err = s.Insert(ctx, "/web/github", []byte("other"), false)
	require.ErrorIs(t, err, tree.ErrEntryExists)

	_, err = s.Insert(ctx, "/web/github", []byte("rotated"), true)
	require.NoError(t, err)
	got, err = s.Show(ctx, "web/github")
	require.NoError(t, err)
	assert.Equal(t, "rotated", string(got))

	s.Lock(keys.id("alice"))
	assert.Empty(t, s.Unlocked())
	_, err = s.Show(ctx, "/web/github")
	require.ErrorIs(t, err, tree.ErrNoUnlockedKey)
}

func TestStore_PathResolution(t *testing.T) {
	keys := newTestKeys(t, "alice")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()

	_, err := s.Insert(ctx, "/a", []byte("file"), false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "/a/b", []byte("nested"), false)
	require.NoError(t, err)

	item, err := s.Item("/a")
	require.NoError(t, err)
	assert.IsType(t, &tree.Password{}, item)

	item, err = s.Item("/a/")
	require.NoError(t, err)
	assert.IsType(t, &tree.Directory{}, item)
	assert.Equal(t, "/a/", item.Path())

	item, err = s.Item("/")
	require.NoError(t, err)
	assert.True(t, item.(*tree.Directory).IsRoot())

	_, err = s.Item("/missing")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)
	_, err = s.Password("/a/")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.Insert(ctx, "/", []byte("x"), false)
	assert.ErrorIs(t, err, ErrInvalidPath)

	require.NoError(t, s.Remove("/a"))
	_, err = s.Password("/a")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)
	_, err = s.Password("/a/b")
	assert.NoError(t, err)

	require.NoError(t, s.Remove("/a"))
	_, err = s.Directory("/a")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)

	assert.ErrorIs(t, s.Remove("/"), tree.ErrCannotRemoveRoot)
}

func TestStore_Init(t *testing.T) {
	keys := newTestKeys(t, "alice", "bob")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()

	dir, err := s.Init(ctx, "/team/ops/", []crypto.KeyID{keys.id("bob")})
	require.NoError(t, err)
	assert.Equal(t, "/team/ops/", dir.Path())

	p, err := s.Insert(ctx, "/team/ops/db", []byte("s3cret"), false)
	require.NoError(t, err)
	ids, err := p.KeyIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, keys.id("bob").Matches(ids[0]))

	_, err = s.Init(ctx, "/other", []crypto.KeyID{"FFFFFFFFFFFFFFFF"})
	assert.ErrorIs(t, err, crypto.ErrUnknownRecipient)

	assert.True(t, s.KeyIDs().Equal(crypto.NewRecipientSet(keys.id("alice"))))
}

func TestStore_MoveCopy(t *testing.T) {
	keys := newTestKeys(t, "alice", "bob")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()
	_, err := s.Unlock(ctx, keys.id("alice"), passphrase)
	require.NoError(t, err)

	_, err = s.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "/web/gitlab", []byte("gl"), false)
	require.NoError(t, err)

	t.Run("into new directory", func(t *testing.T) {
		_, err = s.Move(ctx, "/web/github", "/archive/", false)
		require.NoError(t, err)
		_, err := s.Password("/archive/github")
		require.NoError(t, err)
	})

	t.Run("rename", func(t *testing.T) {
		_, err = s.Move(ctx, "/archive/github", "/archive/gh", false)
		require.NoError(t, err)
		got, err := s.Show(ctx, "/archive/gh")
		require.NoError(t, err)
		assert.Equal(t, "gh", string(got))
	})

	t.Run("into existing directory without slash", func(t *testing.T) {
		_, err = s.Move(ctx, "/archive/gh", "/web", false)
		require.NoError(t, err)
		_, err := s.Password("/web/gh")
		require.NoError(t, err)
	})

	t.Run("collision", func(t *testing.T) {
		_, err := s.Insert(ctx, "/gl", []byte("root gl"), false)
		require.NoError(t, err)
		_, err = s.Move(ctx, "/gl", "/web/gitlab", false)
		require.ErrorIs(t, err, tree.ErrEntryExists)
		_, err = s.Move(ctx, "/gl", "/web/gitlab", true)
		require.NoError(t, err)
		got, err := s.Show(ctx, "/web/gitlab")
		require.NoError(t, err)
		assert.Equal(t, "root gl", string(got))
	})

	t.Run("copy directory re-encrypts", func(t *testing.T) {
		_, err := s.Init(ctx, "/shared/", []crypto.KeyID{keys.id("bob")})
		require.NoError(t, err)

		item, err := s.Copy(ctx, "/web/", "/shared/web2", false)
		require.NoError(t, err)
		assert.Equal(t, "/shared/web2/", item.Path())

		p, err := s.Password("/shared/web2/gh")
		require.NoError(t, err)
		ids, err := p.KeyIDs()
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.True(t, keys.id("bob").Matches(ids[0]))

		_, err = s.Password("/web/gh")
		assert.NoError(t, err)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err = s.Move(ctx, "/nope", "/x", false)
		assert.ErrorIs(t, err, tree.ErrEntryNotFound)
	})
}

func TestStore_FailedRelocationLeavesNoDirectories(t *testing.T) {
	keys := newTestKeys(t, "alice", "bob")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()
	_, err := s.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	_, err = s.Init(ctx, "/shared/", []crypto.KeyID{keys.id("bob")})
	require.NoError(t, err)

	_, err = s.Move(ctx, "/web/", "/web/sub/", false)
	require.ErrorIs(t, err, tree.ErrMoveIntoSelf)
	_, err = s.Directory("/web/sub")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)

	_, err = s.Copy(ctx, "/web/", "/web/a/b/copy", false)
	require.ErrorIs(t, err, tree.ErrMoveIntoSelf)
	_, err = s.Directory("/web/a")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)

	// Landing under bob re-encrypts, which needs an unlocked key.
	_, err = s.Move(ctx, "/web/github", "/shared/new/deeper/", false)
	require.Error(t, err)
	_, err = s.Directory("/shared/new")
	assert.ErrorIs(t, err, tree.ErrEntryNotFound)
	_, err = s.Password("/web/github")
	assert.NoError(t, err)
}

func TestStore_Search(t *testing.T) {
	keys := newTestKeys(t, "alice")
	s := newTestStore(t, keys, WithRootRecipients(keys.id("alice")))
	ctx := t.Context()
	for _, p := range []string{"/mail", "/web/gmail", "/web/github", "/work/mail.corp"} {
		_, err := s.Insert(ctx, p, []byte("x"), false)
		require.NoError(t, err)
	}

	got, err := s.Search("mail", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/mail", "/web/gmail", "/work/mail.corp"}, got)

	got, err = s.Search("mail", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/mail"}, got)

	got, err = s.Search("mail.c", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/mail.corp"}, got)
}

func TestStore_CloneCommit(t *testing.T) {
	keys := newTestKeys(t, "alice")
	host := memory.NewHost()
	_, err := host.Seed(mirror.DefaultBranch, map[string][]byte{".gitattributes": []byte("*.gpg diff=gpg\n")})
	require.NoError(t, err)
	ctx := t.Context()

	a := newTestStore(t, keys, WithMirror(mirror.New(host)))
	require.NoError(t, a.Clone(ctx))
	require.NoError(t, a.SetKeyIDs(ctx, []crypto.KeyID{keys.id("alice")}))
	_, err = a.Insert(ctx, "/web/github", []byte("hunter2"), false)
	require.NoError(t, err)

	res, err := a.Commit(ctx, "add github")
	require.NoError(t, err)
	assert.False(t, res.NoOp)

	files := host.Files(mirror.DefaultBranch)
	assert.Contains(t, files, ".gitattributes")
	assert.Contains(t, files, "web/github.gpg")
	assert.Equal(t, keys.id("alice").Canonical()+"\n", string(files[".gpg-id"]))

	b := newTestStore(t, keys, WithMirror(mirror.New(host)))
	require.NoError(t, b.Clone(ctx))
	assert.True(t, b.KeyIDs().Equal(crypto.NewRecipientSet(keys.id("alice"))))
	_, err = b.Unlock(ctx, keys.id("alice"), passphrase)
	require.NoError(t, err)
	got, err := b.Show(ctx, "/web/github")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))

	_, err = b.Insert(ctx, "/mail/fastmail", []byte("fm"), false)
	require.NoError(t, err)
	_, err = b.Commit(ctx, "add fastmail")
	require.NoError(t, err)

	res, err = a.Commit(ctx, "nothing new")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, host.Head(mirror.DefaultBranch), a.Mirror().LastKnownCommit())

	require.NoError(t, a.Clone(ctx))
	_, err = a.Password("/mail/fastmail")
	assert.NoError(t, err)
}

func TestStore_FailedCloneKeepsStagedChanges(t *testing.T) {
	keys := newTestKeys(t, "alice")
	host := memory.NewHost()
	_, err := host.Seed(mirror.DefaultBranch, map[string][]byte{"README": []byte("pass store\n")})
	require.NoError(t, err)
	ctx := t.Context()

	s := newTestStore(t, keys, WithMirror(mirror.New(host)))
	require.NoError(t, s.Clone(ctx))
	head := s.Mirror().LastKnownCommit()
	require.NoError(t, s.SetKeyIDs(ctx, []crypto.KeyID{keys.id("alice")}))
	_, err = s.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	require.Len(t, s.Mirror().Pending(), 2)

	_, err = host.Advance(mirror.DefaultBranch, map[string][]byte{"bad\x01dir/x.gpg": []byte("x")})
	require.NoError(t, err)
	require.ErrorIs(t, s.Clone(ctx), tree.ErrInvalidName)

	_, err = s.Password("/web/github")
	require.NoError(t, err)
	assert.Len(t, s.Mirror().Pending(), 2)
	assert.Equal(t, head, s.Mirror().LastKnownCommit())

	res, err := s.Commit(ctx, "after failed clone")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	files := host.Files(mirror.DefaultBranch)
	assert.Contains(t, files, "web/github.gpg")
	assert.Contains(t, files, "bad\x01dir/x.gpg")
}

func TestStore_SaveLoad(t *testing.T) {
	keys := newTestKeys(t, "alice", "bob")
	repo := storagememory.NewRepository()
	ctx := t.Context()

	s := newTestStore(t, keys, WithRepository(repo), WithRootRecipients(keys.id("alice")))
	_, err := s.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	_, err = s.Init(ctx, "/team/", []crypto.KeyID{keys.id("bob")})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "/team/db", []byte("db"), false)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	ids, err := repo.List(storage.BucketTree)
	require.NoError(t, err)
	assert.Contains(t, ids, "/team/")
	assert.Contains(t, ids, "/web/github")

	restored := newTestStore(t, keys, WithRepository(repo))
	require.NoError(t, restored.Load(ctx))
	assert.True(t, restored.KeyIDs().Equal(crypto.NewRecipientSet(keys.id("alice"))))

	_, err = restored.Unlock(ctx, keys.id("bob"), passphrase)
	require.NoError(t, err)
	got, err := restored.Show(ctx, "/team/db")
	require.NoError(t, err)
	assert.Equal(t, "db", string(got))

	dir, err := restored.Directory("/team")
	require.NoError(t, err)
	own, ok := dir.OwnRecipients()
	require.True(t, ok)
	assert.True(t, own.Equal(crypto.NewRecipientSet(keys.id("bob"))))
}

func TestStore_SaveLoadCarriesStagedChanges(t *testing.T) {
	keys := newTestKeys(t, "alice")
	host := memory.NewHost()
	_, err := host.Seed(mirror.DefaultBranch, map[string][]byte{"README": []byte("pass store\n")})
	require.NoError(t, err)
	repo := storagememory.NewRepository()
	ctx := t.Context()

	first := newTestStore(t, keys, WithRepository(repo), WithMirror(mirror.New(host)))
	require.NoError(t, first.Clone(ctx))
	require.NoError(t, first.SetKeyIDs(ctx, []crypto.KeyID{keys.id("alice")}))
	_, err = first.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx))

	second := newTestStore(t, keys, WithRepository(repo), WithMirror(mirror.New(host)))
	require.NoError(t, second.Load(ctx))
	assert.Len(t, second.Mirror().Pending(), 2)
	assert.Equal(t, host.Head(mirror.DefaultBranch), second.Mirror().LastKnownCommit())

	res, err := second.Commit(ctx, "from another process")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	files := host.Files(mirror.DefaultBranch)
	assert.Contains(t, files, "web/github.gpg")
	assert.Contains(t, files, "README")
	assert.Equal(t, keys.id("alice").Canonical()+"\n", string(files[".gpg-id"]))
}

func TestStore_FailedLoadKeepsMirrorState(t *testing.T) {
	keys := newTestKeys(t, "alice")
	host := memory.NewHost()
	_, err := host.Seed(mirror.DefaultBranch, map[string][]byte{"README": []byte("pass store\n")})
	require.NoError(t, err)
	repo := storagememory.NewRepository()
	ctx := t.Context()

	first := newTestStore(t, keys, WithRepository(repo), WithMirror(mirror.New(host)))
	require.NoError(t, first.Clone(ctx))
	require.NoError(t, first.SetKeyIDs(ctx, []crypto.KeyID{keys.id("alice")}))
	_, err = first.Insert(ctx, "/web/github", []byte("gh"), false)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx))

	bad, err := json.Marshal(tree.Entry{Path: "/bad\x01dir/x", Ciphertext: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, repo.Put(storage.BucketTree, "/bad\x01dir/x", bad))

	second := newTestStore(t, keys, WithRepository(repo), WithMirror(mirror.New(host)))
	require.Error(t, second.Load(ctx))
	assert.Empty(t, second.Mirror().Pending())
	assert.Empty(t, second.Mirror().LastKnownCommit())
}

func TestStore_ImportArmored(t *testing.T) {
	keys := newTestKeys(t, "alice")
	other := newTestKeys(t, "carol")
	s := newTestStore(t, keys)

	pubArmor, err := crypto.ArmorPublicKey(other.pubs["carol"])
	require.NoError(t, err)
	ids, err := s.ImportArmored(pubArmor)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.False(t, s.Keyring().HasPrivate(ids[0]))

	lockedArmor, err := crypto.ArmorLockedKey(other.locked["carol"])
	require.NoError(t, err)
	_, err = s.ImportArmored(lockedArmor)
	require.NoError(t, err)
	assert.True(t, s.Keyring().HasPrivate(other.id("carol")))

	_, err = s.ImportArmored([]byte("garbage"))
	assert.ErrorIs(t, err, crypto.ErrNoArmoredKey)
}

func TestStore_WithoutRemoteOrRepository(t *testing.T) {
	keys := newTestKeys(t, "alice")
	s := newTestStore(t, keys)
	ctx := t.Context()

	assert.ErrorIs(t, s.Clone(ctx), ErrNoRemote)
	_, err := s.Commit(ctx, "x")
	assert.ErrorIs(t, err, ErrNoRemote)
	assert.ErrorIs(t, s.Save(ctx), ErrNoRepository)
	assert.ErrorIs(t, s.Load(ctx), ErrNoRepository)
}
