package server

import (
	"encoding/json"
	"net/http"

	"github.com/mediakit-io/go-mediaproxy/ingest"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
)

type ingestRequest struct {
	URL      string `json:"url"`
	Folder   string `json:"folder"`
	Filename string `json:"filename"`
}

// TaskStatusResponse is the body of GET /api/task.
type TaskStatusResponse struct {
	Done bool           `json:"done"`
	File *mediaapi.File `json:"file,omitempty"`
	Task *mediaapi.Task `json:"task,omitempty"`
}

// IngestResponse is the body of a failed or pending ingest.
type IngestResponse struct {
	Message string        `json:"message"`
	Task    mediaapi.Task `json:"task"`
}

// IngestURL imports a remote URL and answers with the file once it is ready.
func (h *Handler) IngestURL(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		h.writeMessage(w, http.StatusBadRequest, "Missing 'url'")
		return
	}
	if !h.requireCredential(w) {
		return
	}

	result, err := h.ingester.Ingest(r.Context(), ingest.Request{
		URL:      req.URL,
		Folder:   req.Folder,
		Filename: req.Filename,
	})
	if err != nil {
		h.writeError(w, err, "Failed to create ingest task")
		return
	}
	if h.metrics != nil {
		h.metrics.IngestFinished(result.Status.String())
	}

	switch result.Status {
	case ingest.Ready:
		h.writeJSON(w, http.StatusOK, result.File)
	case ingest.Failed:
		h.writeJSON(w, http.StatusBadGateway, IngestResponse{Message: "Ingest failed", Task: result.Task})
	default:
		h.writeJSON(w, http.StatusAccepted, IngestResponse{Message: "Ingest pending", Task: result.Task})
	}
}

// GetTask reports whether a task produced its file yet.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeMessage(w, http.StatusBadRequest, "Missing id")
		return
	}
	if !h.requireCredential(w) {
		return
	}

	task, err := h.api.GetTask(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "Upstream error")
		return
	}

	if file, ok := task.OutputFile(); ok {
		h.writeJSON(w, http.StatusOK, TaskStatusResponse{Done: true, File: &file})
		return
	}
	h.writeJSON(w, http.StatusAccepted, TaskStatusResponse{Done: false, Task: &task})
}
