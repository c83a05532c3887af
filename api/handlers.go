package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/store"
	"github.com/jmcleod/ironpass/tree"
)

// maxBodySize bounds every JSON request body.
const maxBodySize = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// entryPath returns the store path captured by a trailing wildcard route.
func entryPath(r *http.Request) string {
	return "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}

// persist writes the tree snapshot after a mutation when the store has a
// local repository.
func (a *API) persist(r *http.Request) {
	if err := a.store.Save(r.Context()); err != nil && !errors.Is(err, store.ErrNoRepository) {
		a.logger.Warn("saving tree snapshot failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

// ListKeys handles GET /keys.
func (a *API) ListKeys(w http.ResponseWriter, r *http.Request) {
	unlocked := crypto.NewRecipientSet(a.store.Unlocked()...)
	keyring := a.store.Keyring()
	resp := ListKeysResponse{Keys: []KeySummary{}}
	for _, pub := range keyring.List() {
		fp := pub.Fingerprint()
		resp.Keys = append(resp.Keys, KeySummary{
			KeyID:      fp.String(),
			ShortID:    pub.ShortID().String(),
			Name:       pub.Name,
			HasPrivate: keyring.HasPrivate(fp),
			Unlocked:   unlocked.Contains(fp),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImportKeys handles POST /keys.
func (a *API) ImportKeys(w http.ResponseWriter, r *http.Request) {
	var req ImportKeysRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := a.store.ImportArmored([]byte(req.Armored))
	if err != nil {
		mapError(w, err)
		return
	}
	resp := ImportKeysResponse{KeyIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.KeyIDs = append(resp.KeyIDs, id.String())
		a.audit.logKey(AuditKeyImported, r, id.ShortID().String())
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UnlockKey handles POST /keys/{keyID}/unlock.
func (a *API) UnlockKey(w http.ResponseWriter, r *http.Request) {
	keyID := crypto.KeyID(chi.URLParam(r, "keyID"))
	limiterKey := keyID.Canonical()
	if locked, err := a.store.Keyring().Locked(keyID); err == nil {
		limiterKey = locked.Fingerprint().Canonical()
	}

	if blocked, retryAfter := a.unlockLimiter.check(limiterKey); blocked {
		a.audit.logKey(AuditKeyUnlockRateLimited, r, keyID.ShortID().String())
		writeRateLimited(w, retryAfter)
		return
	}

	var req UnlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fp, err := a.store.Unlock(r.Context(), keyID, req.Passphrase)
	if err != nil {
		if errors.Is(err, crypto.ErrWrongPassphrase) {
			a.unlockLimiter.recordFailure(limiterKey)
			a.audit.logKey(AuditKeyUnlockFailure, r, keyID.ShortID().String(), slog.String("reason", "wrong passphrase"))
		}
		mapError(w, err)
		return
	}
	a.unlockLimiter.recordSuccess(limiterKey)
	a.audit.logKey(AuditKeyUnlocked, r, fp.ShortID().String())
	w.WriteHeader(http.StatusNoContent)
}

// LockKey handles DELETE /keys/{keyID}/unlock.
func (a *API) LockKey(w http.ResponseWriter, r *http.Request) {
	keyID := crypto.KeyID(chi.URLParam(r, "keyID"))
	a.store.Lock(keyID)
	a.audit.logKey(AuditKeyLocked, r, keyID.ShortID().String())
	w.WriteHeader(http.StatusNoContent)
}

// GetEntry handles GET /entries/*.
func (a *API) GetEntry(w http.ResponseWriter, r *http.Request) {
	item, err := a.store.Item(entryPath(r))
	if err != nil {
		mapError(w, err)
		return
	}
	var resp EntryResponse
	switch it := item.(type) {
	case *tree.Directory:
		resp, err = directoryEntry(it)
	case *tree.Password:
		resp, err = passwordEntry(it)
	}
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func directoryEntry(d *tree.Directory) (EntryResponse, error) {
	eff, err := d.EffectiveRecipients()
	if err != nil {
		return EntryResponse{}, err
	}
	_, own := d.OwnRecipients()
	resp := EntryResponse{
		Path:          d.Path(),
		Type:          "directory",
		Recipients:    eff.Strings(),
		OwnRecipients: own,
		Directories:   []string{},
		Passwords:     []string{},
	}
	for _, sub := range d.Directories() {
		resp.Directories = append(resp.Directories, sub.Name())
	}
	for _, p := range d.Passwords() {
		resp.Passwords = append(resp.Passwords, p.Name())
	}
	return resp, nil
}

func passwordEntry(p *tree.Password) (EntryResponse, error) {
	ids, err := p.KeyIDs()
	if err != nil {
		return EntryResponse{}, err
	}
	decryptable := p.IsDecryptable()
	return EntryResponse{
		Path:        p.Path(),
		Type:        "password",
		Recipients:  crypto.RecipientSet(ids).Strings(),
		Decryptable: &decryptable,
	}, nil
}

// DeleteEntry handles DELETE /entries/*.
func (a *API) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	if err := a.store.Remove(path); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditEntryDeleted, r, path)
	a.persist(r)
	w.WriteHeader(http.StatusNoContent)
}

// GetSecret handles GET /secrets/*.
func (a *API) GetSecret(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	content, err := a.store.Show(r.Context(), path)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditSecretRead, r, path)
	writeJSON(w, http.StatusOK, SecretResponse{Path: path, Content: string(content)})
}

// PutSecret handles PUT /secrets/*. It creates the password, or replaces the
// content of an existing one.
func (a *API) PutSecret(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	var req PutSecretRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	existed := a.store.Exists(path)
	p, err := a.store.Insert(r.Context(), path, []byte(req.Content), true)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditSecretWritten, r, p.Path(), slog.Bool("created", !existed))
	a.persist(r)

	resp, err := passwordEntry(p)
	if err != nil {
		mapError(w, err)
		return
	}
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// SetRecipients handles PUT /recipients/*. Missing directories are created.
func (a *API) SetRecipients(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	var req SetRecipientsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids := make([]crypto.KeyID, 0, len(req.KeyIDs))
	for _, id := range req.KeyIDs {
		ids = append(ids, crypto.KeyID(id))
	}
	dir, err := a.store.Init(r.Context(), path, ids)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditRecipientsChanged, r, dir.Path(), slog.Int("count", len(ids)))
	a.persist(r)

	resp, err := directoryEntry(dir)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MoveEntry handles POST /move.
func (a *API) MoveEntry(w http.ResponseWriter, r *http.Request) {
	var req RelocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := a.store.Move(r.Context(), req.Source, req.Destination, req.Force)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditEntryMoved, r, req.Source, slog.String("destination", item.Path()))
	a.persist(r)
	writeJSON(w, http.StatusOK, RelocateResponse{Path: item.Path()})
}

// CopyEntry handles POST /copy.
func (a *API) CopyEntry(w http.ResponseWriter, r *http.Request) {
	var req RelocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := a.store.Copy(r.Context(), req.Source, req.Destination, req.Force)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logPath(AuditEntryCopied, r, req.Source, slog.String("destination", item.Path()))
	a.persist(r)
	writeJSON(w, http.StatusCreated, RelocateResponse{Path: item.Path()})
}

// Search handles GET /search?q=&deep=.
func (a *API) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deep := true
	if v := q.Get("deep"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid deep parameter")
			return
		}
		deep = b
	}
	page, err := parsePage(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paths, err := a.store.Search(q.Get("q"), deep)
	if err != nil {
		mapError(w, err)
		return
	}
	resp := SearchResponse{}
	resp.Paths, resp.PaginationMeta = paginate(paths, page)
	writeJSON(w, http.StatusOK, resp)
}

// Clone handles POST /sync/clone.
func (a *API) Clone(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clone(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	commit := a.store.Mirror().LastKnownCommit()
	a.audit.log(AuditStoreCloned, r, slog.String("commit", commit))
	a.persist(r)
	writeJSON(w, http.StatusOK, SyncResponse{Commit: commit})
}

// Commit handles POST /sync/commit.
func (a *API) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		req.Message = "Update password store"
	}
	res, err := a.store.Commit(r.Context(), req.Message)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.log(AuditStoreCommitted, r,
		slog.String("commit", res.Commit),
		slog.Bool("no_op", res.NoOp),
		slog.Int("uploaded", res.Uploaded),
	)
	a.persist(r)
	writeJSON(w, http.StatusOK, SyncResponse{
		Commit:   res.Commit,
		Tree:     res.Tree,
		NoOp:     res.NoOp,
		Uploaded: res.Uploaded,
		Files:    res.Files,
	})
}
