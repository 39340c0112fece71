package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
)

// ListFiles answers with the latest files, always as an array.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	if !h.requireCredential(w) {
		return
	}

	files, err := h.api.ListFiles(r.Context(), mediaapi.DefaultListLimit)
	if err != nil {
		h.writeError(w, err, "Failed to list files")
		return
	}

	h.writeJSON(w, http.StatusOK, files)
}

// RenameFile changes the filename of a file.
func (h *Handler) RenameFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req fileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Filename == "" {
		h.writeMessage(w, http.StatusBadRequest, "Missing 'filename'")
		return
	}
	if !h.requireCredential(w) {
		return
	}

	file, err := h.api.RenameFile(r.Context(), id, req.Filename)
	if err != nil {
		h.writeError(w, err, "Failed to rename file")
		return
	}

	if len(file.Raw) == 0 {
		h.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	h.writeJSON(w, http.StatusOK, file)
}

// DeleteFile removes a file and passes the upstream answer through.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireCredential(w) {
		return
	}

	payload, err := h.api.DeleteFile(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "Failed to delete file")
		return
	}

	if len(payload) == 0 {
		h.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}
