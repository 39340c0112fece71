// Package server is the HTTP proxy in front of the media API. It injects the
// credential, unwraps upstream envelopes and returns JSON errors.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/mediakit-io/go-mediaproxy/telemetry"
)

// Options configures the router.
type Options struct {
	// Production disables CORS for browser development.
	Production     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MaxBodySize caps JSON request bodies.
	MaxBodySize int64
}

// DefaultOptions ...
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"*"},
		RequestTimeout: 60 * time.Second,
		MaxBodySize:    1 << 20,
	}
}

// NewRouter builds the proxy http.Handler.
func NewRouter(handler *Handler, metrics *telemetry.Metrics, logger log.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware(metrics))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if opts.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodySize))
	}

	if !opts.Production {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/files", handler.ListFiles)
		r.Patch("/files/{id}", handler.RenameFile)
		r.Delete("/files/{id}", handler.DeleteFile)
		r.Patch("/file/{id}", handler.RenameFile)
		r.Delete("/file/{id}", handler.DeleteFile)

		r.Post("/sign-upload", handler.SignUpload)
		r.Post("/sign-put", handler.SignPut)
		r.Post("/sign-get", handler.SignGet)
		r.Post("/resumable", handler.CreateResumable)

		r.Post("/upload", handler.IngestURL)
		r.Get("/task", handler.GetTask)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warnf("encode health response: %s", err)
		}
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return gzhttp.GzipHandler(r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
