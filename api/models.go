package api

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// KeySummary describes a key known to the keyring.
type KeySummary struct {
	KeyID      string `json:"key_id"`
	ShortID    string `json:"short_id"`
	Name       string `json:"name,omitempty"`
	HasPrivate bool   `json:"has_private"`
	Unlocked   bool   `json:"unlocked"`
}

// ListKeysResponse is returned from GET /keys.
type ListKeysResponse struct {
	Keys []KeySummary `json:"keys"`
}

// ImportKeysRequest is the JSON body for POST /keys.
type ImportKeysRequest struct {
	Armored string `json:"armored"`
}

// ImportKeysResponse is returned from POST /keys.
type ImportKeysResponse struct {
	KeyIDs []string `json:"key_ids"`
}

// UnlockRequest is the JSON body for POST /keys/{keyID}/unlock.
type UnlockRequest struct {
	Passphrase string `json:"passphrase"`
}

// EntryResponse is returned from GET /entries/{path}.
type EntryResponse struct {
	Path string `json:"path"`
	// Type is "directory" or "password".
	Type string `json:"type"`
	// Recipients holds the effective recipients of a directory, or the key
	// ids a password is encrypted to.
	Recipients    []string `json:"recipients"`
	OwnRecipients bool     `json:"own_recipients,omitempty"`
	Directories   []string `json:"directories,omitempty"`
	Passwords     []string `json:"passwords,omitempty"`
	Decryptable   *bool    `json:"decryptable,omitempty"`
}

// SecretResponse is returned from GET /secrets/{path}.
type SecretResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PutSecretRequest is the JSON body for PUT /secrets/{path}.
type PutSecretRequest struct {
	Content string `json:"content"`
}

// SetRecipientsRequest is the JSON body for PUT /recipients/{path}.
type SetRecipientsRequest struct {
	KeyIDs []string `json:"key_ids"`
}

// RelocateRequest is the JSON body for POST /move and POST /copy.
type RelocateRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Force       bool   `json:"force,omitempty"`
}

// RelocateResponse is returned from POST /move and POST /copy.
type RelocateResponse struct {
	Path string `json:"path"`
}

// SearchResponse is returned from GET /search.
type SearchResponse struct {
	Paths []string `json:"paths"`
	PaginationMeta
}

// CommitRequest is the JSON body for POST /sync/commit.
type CommitRequest struct {
	Message string `json:"message"`
}

// SyncResponse is returned from POST /sync/clone and POST /sync/commit.
type SyncResponse struct {
	Commit   string `json:"commit"`
	Tree     string `json:"tree,omitempty"`
	NoOp     bool   `json:"no_op,omitempty"`
	Uploaded int    `json:"uploaded,omitempty"`
	Files    int    `json:"files,omitempty"`
}
