package mirror

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// Git object modes and types used by the mirror.
const (
	ModeFile = "100644"
	TypeBlob = "blob"
	TypeTree = "tree"
)

// RemoteEntry is one item of a recursive remote tree listing.
type RemoteEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

// RemoteTree is a recursive tree listing. Truncated is set when the host
// could not return every entry.
type RemoteTree struct {
	SHA       string
	Entries   []RemoteEntry
	Truncated bool
}

// Transport is the minimal set of git-data operations the mirror needs from
// a remote host. Implementations must not retry on their own.
type Transport interface {
	GetRef(ctx context.Context, branch string) (string, error)
	// GetCommit returns the tree sha of a commit.
	GetCommit(ctx context.Context, sha string) (string, error)
	GetTree(ctx context.Context, sha string, recursive bool) (RemoteTree, error)
	GetBlob(ctx context.Context, sha string) ([]byte, error)
	CreateBlob(ctx context.Context, data []byte) (string, error)
	CreateTree(ctx context.Context, entries []RemoteEntry) (string, error)
	CreateCommit(ctx context.Context, tree string, parents []string, message string) (string, error)
	// UpdateRef moves branch to sha only if it still points at
	// expectedPrevious, failing with ErrRefUpdateConflict otherwise.
	UpdateRef(ctx context.Context, branch, sha, expectedPrevious string) error
}

// BlobSHA returns the git object id of a blob with the given content.
func BlobSHA(data []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
