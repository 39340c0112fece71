package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/mediakit-io/go-mediaproxy/ingest"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/telemetry"
)

// MediaAPI is the part of the media API the proxy exposes.
type MediaAPI interface {
	HasCredential() bool
	ListFiles(ctx context.Context, limit int) ([]mediaapi.File, error)
	RenameFile(ctx context.Context, id, filename string) (mediaapi.File, error)
	DeleteFile(ctx context.Context, id string) (json.RawMessage, error)
	SignUpload(ctx context.Context, filename, folder string) (mediaapi.Signature, error)
	SignPut(ctx context.Context, filename, folder string) (mediaapi.Signature, error)
	SignDownload(ctx context.Context, filename, folder string) (mediaapi.Signature, error)
	SignResumable(ctx context.Context, filename, folder string) (mediaapi.Signature, error)
	GetTask(ctx context.Context, id string) (mediaapi.Task, error)
}

// Ingester imports remote URLs.
type Ingester interface {
	Ingest(ctx context.Context, request ingest.Request) (ingest.Result, error)
}

// Handler serves the /api routes.
type Handler struct {
	api      MediaAPI
	ingester Ingester
	metrics  *telemetry.Metrics
	logger   log.Logger
}

// NewHandler ...
func NewHandler(api MediaAPI, ingester Ingester, metrics *telemetry.Metrics, logger log.Logger) *Handler {
	return &Handler{
		api:      api,
		ingester: ingester,
		metrics:  metrics,
		logger:   logger,
	}
}

// MessageResponse is the body of every error response.
type MessageResponse struct {
	Message string `json:"message"`
}

type fileRequest struct {
	Filename string `json:"filename"`
	Folder   string `json:"folder"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("error encoding response: %s", err)
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, MessageResponse{Message: message})
}

// writeError maps err to a status and a `{message}` body. fallback is used
// when an upstream failure carries no readable message.
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var (
		configErr   *mediaapi.ConfigurationError
		upstreamErr *mediaapi.UpstreamError
		protoErr    *mediaapi.ProtocolError
		netErr      *mediaapi.NetworkError
	)
	switch {
	case errors.As(err, &configErr):
		h.writeMessage(w, http.StatusInternalServerError, configErr.Error())
	case errors.As(err, &upstreamErr):
		message := mediaapi.MessageFromBody(upstreamErr.Body)
		if message == "" {
			message = strings.TrimSpace(upstreamErr.Body)
		}
		if message == "" {
			message = fallback
		}
		h.writeMessage(w, upstreamErr.Status, message)
	case errors.As(err, &protoErr):
		h.logger.Warnf("%s: %s", fallback, err)
		h.writeMessage(w, http.StatusBadGateway, fallback)
	case errors.As(err, &netErr):
		h.logger.Errorf("%s: %s", fallback, err)
		h.writeMessage(w, http.StatusBadGateway, fallback)
	default:
		h.logger.Errorf("%s: %s", fallback, err)
		message := err.Error()
		if message == "" {
			message = "Server error"
		}
		h.writeMessage(w, http.StatusInternalServerError, message)
	}
}

// requireCredential answers 500 when the proxy has no credential to inject.
func (h *Handler) requireCredential(w http.ResponseWriter) bool {
	if h.api.HasCredential() {
		return true
	}
	h.writeError(w, mediaapi.ErrMissingCredential, "")
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}
