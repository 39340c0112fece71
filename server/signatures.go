package server

import (
	"context"
	"net/http"

	"github.com/mediakit-io/go-mediaproxy/mediaapi"
)

type signFunc func(ctx context.Context, filename, folder string) (mediaapi.Signature, error)

// SignUpload signs a one hour PUT into the uploads folder.
func (h *Handler) SignUpload(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, func(ctx context.Context, filename, _ string) (mediaapi.Signature, error) {
		return h.api.SignUpload(ctx, filename, mediaapi.DefaultUploadFolder)
	}, "Failed to sign upload")
}

// SignPut signs a ten minute PUT.
func (h *Handler) SignPut(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, h.api.SignPut, "Failed to sign upload")
}

// SignGet signs a five minute GET.
func (h *Handler) SignGet(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, h.api.SignDownload, "Failed to sign URL")
}

// CreateResumable opens a resumable upload session for the browser.
func (h *Handler) CreateResumable(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, h.api.SignResumable, "Failed to create resumable session")
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request, sign signFunc, fallback string) {
	var req fileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireCredential(w) {
		return
	}

	sig, err := sign(r.Context(), req.Filename, req.Folder)
	if err != nil {
		h.writeError(w, err, fallback)
		return
	}

	h.writeJSON(w, http.StatusOK, sig)
}
