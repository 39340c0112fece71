// Package mediaapi is a client for the upstream media-hosting API: signatures,
// files and tasks. Every call injects the bearer credential and decodes the
// response through DecodeEnvelope.
package mediaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.ittybit.com"

const tracerName = "github.com/mediakit-io/go-mediaproxy/mediaapi"

// Config holds everything the client needs. The credential is passed in
// explicitly so that callers (and tests) control it per instance.
type Config struct {
	BaseURL string
	APIKey  string

	// RetryMax applies to idempotent requests only (GET, DELETE).
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	UploadExpiry    time.Duration
	PutExpiry       time.Duration
	ResumableExpiry time.Duration
	DownloadExpiry  time.Duration
}

// DefaultConfig returns the default configuration without a credential.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		RetryMax:        3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		UploadExpiry:    time.Hour,
		PutExpiry:       10 * time.Minute,
		ResumableExpiry: 10 * time.Minute,
		DownloadExpiry:  5 * time.Minute,
	}
}

// Client talks to the media API.
type Client struct {
	httpClient *retryablehttp.Client
	config     Config
	logger     log.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewClient creates a Client. A missing API key is not an error here: every
// call reports ErrMissingCredential before touching the network instead.
func NewClient(config Config, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = config.RetryMax
	httpClient.RetryWaitMin = config.RetryWaitMin
	httpClient.RetryWaitMax = config.RetryWaitMax
	httpClient.CheckRetry = createCustomRetryFunction(logger)
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		config:     config,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.config.APIKey != ""
}

func (c *Client) expiry(d time.Duration) int64 {
	return c.now().Add(d).Unix()
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (Response, error) {
	if !c.HasCredential() {
		return Response{}, ErrMissingCredential
	}

	ctx, span := c.tracer.Start(ctx, method+" "+routeOf(path), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	span.SetAttributes(attribute.String("mediaapi.response_kind", resp.Kind.String()))
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}) (Response, error) {
	var body interface{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("marshal %T: %w", payload, err)
		}
		body = b
	}

	if method == http.MethodGet || method == http.MethodDelete {
		ctx = withIdempotent(ctx)
	}

	url := c.config.BaseURL + path
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.config.APIKey))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}
		return Response{}, &NetworkError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warnf("close response body: %s", err)
		}
	}(resp.Body)

	dump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s %s response: %s", method, path, bytes.TrimSpace(dump))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, unwrapError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &NetworkError{Op: fmt.Sprintf("read %s %s response", method, path), Err: err}
	}

	return DecodeEnvelope(raw)
}

// routeOf drops identifiers and query strings so span names stay low-cardinality.
func routeOf(path string) string {
	path = strings.SplitN(path, "?", 2)[0]
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 1 {
		return "/" + parts[0] + "/{id}"
	}
	return "/" + parts[0]
}
