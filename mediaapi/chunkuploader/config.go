package chunkuploader

import (
	"net/http"
	"time"
)

// DefaultChunkSize is the fixed chunk size of a resumable upload.
const DefaultChunkSize int64 = 16 * 1024 * 1024

// Config holds configuration for the chunk uploader.
type Config struct {
	// ChunkSize is the number of bytes per PUT. It is never negotiated with the
	// server or adapted at runtime.
	// Default: 16 MiB
	ChunkSize int64

	// ChunkTimeout bounds a single chunk PUT. Zero leaves it to the transport.
	// Default: 0
	ChunkTimeout time.Duration

	// HTTPClient is the HTTP client to use for uploads.
	// If nil, a default client will be created.
	HTTPClient *http.Client

	// Observer is notified about every chunk. Optional.
	Observer Observer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkTimeout: 0,
		HTTPClient:   nil, // Will be created by Uploader
	}
}

// DefaultHTTPClient creates an HTTP client for chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - chunk timeouts are handled via ChunkTimeout
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Observer receives per-chunk events, e.g. for metrics.
type Observer interface {
	ChunkSent(transfer Transfer, status int, took time.Duration)
	ChunkFailed(transfer Transfer, err error)
}
