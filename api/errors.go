package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/ironpass/crypto"
	"github.com/jmcleod/ironpass/mirror"
	"github.com/jmcleod/ironpass/storage"
	"github.com/jmcleod/ironpass/store"
	"github.com/jmcleod/ironpass/tree"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tree.ErrEntryNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, mirror.ErrPathNotFound),
		errors.Is(err, crypto.ErrNoPrivateKey):
		return http.StatusNotFound
	case errors.Is(err, tree.ErrEntryExists),
		errors.Is(err, mirror.ErrRefUpdateConflict),
		errors.Is(err, store.ErrNoRemote):
		return http.StatusConflict
	case errors.Is(err, tree.ErrSubtreeBusy),
		errors.Is(err, mirror.ErrCommitInProgress):
		return http.StatusLocked
	case errors.Is(err, tree.ErrNoUnlockedKey),
		errors.Is(err, crypto.ErrNotRecipient):
		return http.StatusForbidden
	case errors.Is(err, crypto.ErrWrongPassphrase):
		return http.StatusUnauthorized
	case errors.Is(err, tree.ErrInvalidName),
		errors.Is(err, tree.ErrMoveIntoSelf),
		errors.Is(err, tree.ErrCannotRemoveRoot),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, crypto.ErrUnknownRecipient),
		errors.Is(err, crypto.ErrNoRecipients),
		errors.Is(err, crypto.ErrNoArmoredKey):
		return http.StatusBadRequest
	case errors.Is(err, crypto.ErrMalformedCiphertext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mirror.ErrTransport),
		errors.Is(err, mirror.ErrTreeTruncated):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
