package mediaapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CredentialEnvKey is the environment variable that carries the service credential.
const CredentialEnvKey = "ITTYBIT_API_KEY"

const genericFailureReason = "Upload failed"

// maxErrorBodySize caps how much of an upstream error body is kept.
const maxErrorBodySize = 64 * 1024

// ErrMissingCredential is returned before any network call when the client has no API key.
var ErrMissingCredential = &ConfigurationError{Setting: CredentialEnvKey}

// ConfigurationError reports a required setting that is absent.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("Missing %s", e.Setting)
}

// UpstreamError is a non-success response from the media API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// ProtocolError means the upstream answered successfully but the payload is unusable.
type ProtocolError struct {
	Reason string
	Body   string
}

func (e *ProtocolError) Error() string {
	if e.Body == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Body)
}

// UpstreamChunkError is a rejected chunk PUT.
type UpstreamChunkError struct {
	Status int
	Range  string
	Body   string
}

func (e *UpstreamChunkError) Error() string {
	return fmt.Sprintf("Chunk failed (%d): %s", e.Status, e.Body)
}

// NetworkError wraps a transport level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Reason returns a human readable explanation of err, preferring the message
// carried by an upstream body.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return configErr.Error()
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return bodyReason(upstreamErr.Body, fmt.Sprintf("Upstream request failed (%d)", upstreamErr.Status))
	}

	var chunkErr *UpstreamChunkError
	if errors.As(err, &chunkErr) {
		msg := fmt.Sprintf("Chunk failed (%d): %s", chunkErr.Status, bodyReason(chunkErr.Body, ""))
		if strings.Contains(msg, "Upload not found") {
			msg += ". Please retry."
		}
		return msg
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return genericFailureReason
}

// MessageFromBody extracts the `message` field of a JSON error body.
func MessageFromBody(body string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Message
}

func bodyReason(body, fallback string) string {
	if msg := MessageFromBody(body); msg != "" {
		return msg
	}
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		return trimmed
	}
	return fallback
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return &NetworkError{Op: "read error response", Err: err}
	}
	return &UpstreamError{Status: resp.StatusCode, Body: string(errorResp)}
}
