package mirror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/mirror/memory"
)

func seeded(t *testing.T, files map[string]string) (*memory.Host, *mirror.Mirror) {
	t.Helper()
	host := memory.NewHost()
	_, err := host.Seed(mirror.DefaultBranch, bytesOf(files))
	require.NoError(t, err)
	m := mirror.New(host, mirror.WithConcurrency(2))
	_, err = m.Clone(t.Context())
	require.NoError(t, err)
	return host, m
}

func bytesOf(files map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for p, s := range files {
		out[p] = []byte(s)
	}
	return out
}

func stringsOf(files map[string][]byte) map[string]string {
	out := make(map[string]string, len(files))
	for p, b := range files {
		out[p] = string(b)
	}
	return out
}

func TestBlobSHA(t *testing.T) {
	// git hash-object of an empty file and of "hello\n"
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", mirror.BlobSHA(nil))
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", mirror.BlobSHA([]byte("hello\n")))
}

func TestClone(t *testing.T) {
	host := memory.NewHost()
	head, err := host.Seed("main", bytesOf(map[string]string{
		".gitattributes":   "*.gpg diff=gpg\n",
		".gpg-id":          "AAAA\n",
		"a/b/c.gpg":        "secret",
		"a/.gitattributes": "nested",
	}))
	require.NoError(t, err)

	m := mirror.New(host, mirror.WithBranch("main"))
	_, err = m.File(".gpg-id")
	require.ErrorIs(t, err, mirror.ErrNotCloned)

	m.StageCreate("stale.gpg", []byte("x"))
	files, err := m.Clone(t.Context())
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{".gpg-id", "a/.gitattributes", "a/b/c.gpg"}, paths)
	assert.Equal(t, "AAAA\n", files[0].Text())
	assert.Equal(t, head, m.LastKnownCommit())
	assert.Empty(t, m.Pending())
	assert.Len(t, m.Entries(), 4)

	got, err := m.File("/a/b/c.gpg")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))

	_, err = m.File("missing.gpg")
	assert.ErrorIs(t, err, mirror.ErrPathNotFound)
}

func TestStageCollapse(t *testing.T) {
	m := mirror.New(memory.NewHost())

	m.StageCreate("a.gpg", []byte("1"))
	m.StageChangeContent("a.gpg", []byte("2"))
	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, mirror.OpChangeContent, pending[0].Kind)
	assert.Equal(t, "2", string(pending[0].Data))

	m.StageMove("b.gpg", "c.gpg")
	m.StageChangeContent("c.gpg", []byte("3"))
	pending = m.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, mirror.OpDelete, pending[1].Kind)
	assert.Equal(t, "b.gpg", pending[1].Path)
	assert.Equal(t, mirror.OpChangeContent, pending[2].Kind)
	assert.Equal(t, "c.gpg", pending[2].Path)

	t.Run("source reused after move", func(t *testing.T) {
		m := mirror.New(memory.NewHost())
		m.StageMove("x.gpg", "y.gpg")
		m.StageCreate("x.gpg", []byte("new"))
		m.StageChangeContent("y.gpg", []byte("moved"))

		pending := m.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, mirror.OpCreate, pending[0].Kind)
		assert.Equal(t, "x.gpg", pending[0].Path)
		assert.Equal(t, "y.gpg", pending[1].Path)
	})
}

func TestCommit(t *testing.T) {
	host, m := seeded(t, map[string]string{
		".gpg-id":   "AAAA\n",
		"a.gpg":     "1",
		"old.gpg":   "2",
		"dir/x.gpg": "3",
	})
	before := host.Head(mirror.DefaultBranch)

	m.StageChangeContent("a.gpg", []byte("1b"))
	m.StageDelete("old.gpg")
	m.StageMove("dir/x.gpg", "dir/y.gpg")
	m.StageCreate("dir/.gpg-id", []byte("BBBB\n"))

	res, err := m.Commit(t.Context(), "update store")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, res.Commit, host.Head(mirror.DefaultBranch))
	assert.Equal(t, res.Commit, m.LastKnownCommit())
	assert.Equal(t, []string{res.Commit, before}, host.History(mirror.DefaultBranch))
	assert.Equal(t, "update store", host.Message(res.Commit))
	assert.Empty(t, m.Pending())

	assert.Equal(t, map[string]string{
		".gpg-id":     "AAAA\n",
		"a.gpg":       "1b",
		"dir/y.gpg":   "3",
		"dir/.gpg-id": "BBBB\n",
	}, stringsOf(host.Files(mirror.DefaultBranch)))

	t.Run("second commit is a no-op", func(t *testing.T) {
		commits := host.Calls(memory.OpCreateCommit)
		res2, err := m.Commit(t.Context(), "again")
		require.NoError(t, err)
		assert.True(t, res2.NoOp)
		assert.Equal(t, res.Commit, res2.Commit)
		assert.Equal(t, commits, host.Calls(memory.OpCreateCommit))
	})

	t.Run("unchanged content is a no-op", func(t *testing.T) {
		m.StageChangeContent("a.gpg", []byte("1b"))
		res3, err := m.Commit(t.Context(), "same")
		require.NoError(t, err)
		assert.True(t, res3.NoOp)
		assert.Empty(t, m.Pending())
	})
}

func TestCommitRebasesOnRemoteChanges(t *testing.T) {
	host, m := seeded(t, map[string]string{
		"a.gpg": "1",
		"b.gpg": "2",
		"m.gpg": "moved",
	})

	m.StageChangeContent("a.gpg", []byte("local"))
	m.StageMove("m.gpg", "n.gpg")
	m.StageChangeContent("fresh.gpg", []byte("created"))

	// Another client removes b.gpg and m.gpg and adds c.gpg.
	_, err := host.Advance(mirror.DefaultBranch, bytesOf(map[string]string{"c.gpg": "3"}), "b.gpg", "m.gpg")
	require.NoError(t, err)

	res, err := m.Commit(t.Context(), "rebase")
	require.NoError(t, err)
	assert.False(t, res.NoOp)

	assert.Equal(t, map[string]string{
		"a.gpg":     "local",
		"c.gpg":     "3",
		"n.gpg":     "moved",
		"fresh.gpg": "created",
	}, stringsOf(host.Files(mirror.DefaultBranch)))

	got, err := m.File("c.gpg")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))
	_, err = m.File("b.gpg")
	assert.ErrorIs(t, err, mirror.ErrPathNotFound)
}

func TestCommitWithoutOpsAdvancesToRemote(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	head, err := host.Advance(mirror.DefaultBranch, bytesOf(map[string]string{"b.gpg": "2"}))
	require.NoError(t, err)

	res, err := m.Commit(t.Context(), "nothing")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, head, m.LastKnownCommit())
	assert.Len(t, m.Entries(), 2)
	assert.Equal(t, 0, host.Calls(memory.OpCreateCommit))

	got, err := m.File("b.gpg")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
}

func TestCommitKeepsRemoteContentForLaterMove(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	_, err := host.Advance(mirror.DefaultBranch, bytesOf(map[string]string{"x.gpg": "precious"}))
	require.NoError(t, err)

	m.StageChangeContent("a.gpg", []byte("changed"))
	_, err = m.Commit(t.Context(), "change a")
	require.NoError(t, err)
	got, err := m.File("x.gpg")
	require.NoError(t, err)
	assert.Equal(t, "precious", string(got))

	// The source disappears remotely before the move is committed.
	m.StageMove("x.gpg", "y.gpg")
	_, err = host.Advance(mirror.DefaultBranch, nil, "x.gpg")
	require.NoError(t, err)
	_, err = m.Commit(t.Context(), "move x")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"a.gpg": "changed",
		"y.gpg": "precious",
	}, stringsOf(host.Files(mirror.DefaultBranch)))
}

func TestFetchLeavesMirrorUntouched(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	cloned := m.LastKnownCommit()
	m.StageCreate("b.gpg", []byte("local"))
	head, err := host.Advance(mirror.DefaultBranch, bytesOf(map[string]string{"c.gpg": "3"}))
	require.NoError(t, err)

	snap, err := m.Fetch(t.Context())
	require.NoError(t, err)
	assert.Equal(t, head, snap.Commit())
	assert.Equal(t, cloned, m.LastKnownCommit())
	assert.Len(t, m.Pending(), 1)
	_, err = m.File("c.gpg")
	assert.ErrorIs(t, err, mirror.ErrPathNotFound)

	m.Install(snap)
	assert.Equal(t, head, m.LastKnownCommit())
	assert.Empty(t, m.Pending())
	got, err := m.File("c.gpg")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))
}

func TestCommitRefConflict(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	cloned := m.LastKnownCommit()

	m.StageCreate("x.gpg", []byte("mine"))
	host.BeforeNext(memory.OpUpdateRef, func() {
		_, err := host.Advance(mirror.DefaultBranch, bytesOf(map[string]string{"y.gpg": "theirs"}))
		require.NoError(t, err)
	})

	_, err := m.Commit(t.Context(), "conflicting")
	require.ErrorIs(t, err, mirror.ErrRefUpdateConflict)
	assert.NotErrorIs(t, err, mirror.ErrTransport)
	assert.Equal(t, cloned, m.LastKnownCommit())
	assert.Len(t, m.Pending(), 1)
	assert.NotContains(t, host.Files(mirror.DefaultBranch), "x.gpg")

	res, err := m.Commit(t.Context(), "retry")
	require.NoError(t, err)
	assert.Empty(t, m.Pending())
	assert.Equal(t, res.Commit, host.Head(mirror.DefaultBranch))
	assert.Equal(t, map[string]string{
		"a.gpg": "1",
		"x.gpg": "mine",
		"y.gpg": "theirs",
	}, stringsOf(host.Files(mirror.DefaultBranch)))
}

func TestCommitTruncatedTree(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	head := host.Head(mirror.DefaultBranch)
	host.SetTruncated(true)

	m.StageCreate("b.gpg", []byte("2"))
	_, err := m.Commit(t.Context(), "too big")
	require.ErrorIs(t, err, mirror.ErrTreeTruncated)
	assert.Equal(t, head, host.Head(mirror.DefaultBranch))
	assert.Equal(t, 0, host.Calls(memory.OpCreateBlob))
	assert.Len(t, m.Pending(), 1)

	_, err = m.Clone(t.Context())
	assert.ErrorIs(t, err, mirror.ErrTreeTruncated)
}

func TestCommitTransportFailure(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})
	head := host.Head(mirror.DefaultBranch)

	host.FailNext(memory.OpCreateBlob, &mirror.TransportError{Op: "create blob", StatusCode: 502, Body: "bad gateway"})
	m.StageCreate("b.gpg", []byte("2"))

	_, err := m.Commit(t.Context(), "fails")
	require.ErrorIs(t, err, mirror.ErrTransport)
	var terr *mirror.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 502, terr.StatusCode)
	assert.Equal(t, head, host.Head(mirror.DefaultBranch))
	assert.Len(t, m.Pending(), 1)
}

func TestStageDuringCommit(t *testing.T) {
	host, m := seeded(t, map[string]string{"a.gpg": "1"})

	m.StageCreate("b.gpg", []byte("2"))
	host.BeforeNext(memory.OpCreateTree, func() {
		m.StageCreate("late.gpg", []byte("3"))
		_, err := m.Commit(t.Context(), "nested")
		assert.ErrorIs(t, err, mirror.ErrCommitInProgress)
		_, err = m.Clone(t.Context())
		assert.ErrorIs(t, err, mirror.ErrCommitInProgress)
	})

	_, err := m.Commit(t.Context(), "first")
	require.NoError(t, err)
	assert.NotContains(t, host.Files(mirror.DefaultBranch), "late.gpg")

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "late.gpg", pending[0].Path)

	_, err = m.Commit(t.Context(), "second")
	require.NoError(t, err)
	assert.Equal(t, "3", string(host.Files(mirror.DefaultBranch)["late.gpg"]))
}
