package chunkuploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"

// maxResponseBodySize caps how much of a chunk response is read.
const maxResponseBodySize = 64 * 1024

// Uploader sends the chunks of one source at a time, in order. An Uploader may
// be shared by independent uploads; each Upload call owns its session.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
	tracer     trace.Tracer
	stats      *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		stats:      NewStats(),
	}
}

// ChunkSize returns the configured chunk size.
func (u *Uploader) ChunkSize() int64 {
	return u.config.ChunkSize
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	u.httpClient.CloseIdleConnections()
}

// Upload drives the session from offset 0 until the upstream completes the
// upload or rejects a chunk. Cancelling ctx stops the upload between chunks;
// a chunk already on the wire is allowed to finish.
// Failures are terminal: nothing is retried and the session is abandoned.
func (u *Uploader) Upload(ctx context.Context, session mediaapi.Session, source Source, progress ProgressFunc) (Outcome, error) {
	if session.URL == "" {
		err := &mediaapi.ProtocolError{Reason: "upload session has no url"}
		return Failed(err), err
	}

	total := source.Size()
	if total <= 0 {
		return Failed(ErrEmptySource), ErrEmptySource
	}

	if progress == nil {
		progress = func(int) {}
	}

	u.logger.Debugf("Uploading %s in chunks of %s",
		units.HumanSize(float64(total)), units.HumanSize(float64(u.config.ChunkSize)))

	offset := int64(0)
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("upload cancelled at offset %d: %w", offset, err)
			return Failed(err), err
		}

		transfer := nextTransfer(index, offset, total, u.config.ChunkSize)
		outcome := u.send(ctx, session, source, transfer)

		switch outcome.State {
		case StateFailed:
			u.logger.Warnf("Chunk %d (%s) failed: %s", index+1, transfer.ContentRange(), outcome.Err)
			if u.config.Observer != nil {
				u.config.Observer.ChunkFailed(transfer, outcome.Err)
			}
			return outcome, outcome.Err
		case StateCompleted:
			progress(outcome.Percent)
			u.logger.Debugf("Upload completed after %d chunks: %s", index+1, outcome.ResourceURL)
			return outcome, nil
		}

		progress(outcome.Percent)
		offset = transfer.End
	}
}

func (u *Uploader) send(ctx context.Context, session mediaapi.Session, source Source, transfer Transfer) Outcome {
	ctx, span := u.tracer.Start(ctx, "PUT chunk", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.Int("chunk.index", transfer.Index),
		attribute.Int64("chunk.start", transfer.Start),
		attribute.Int64("chunk.length", transfer.Len()),
		attribute.Bool("chunk.final", transfer.IsFinal()),
	))
	defer span.End()

	u.logger.Debugf("Uploading chunk %d (%s) [finished=%d] [avg=%v]",
		transfer.Index+1, transfer.ContentRange(), u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	start := time.Now()
	status, body, err := u.uploadChunk(ctx, session.URL, source, transfer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failed(err)
	}
	took := time.Since(start)
	span.SetAttributes(attribute.Int("http.status_code", status))

	outcome := transition(transfer, status, body, session)
	if outcome.State == StateFailed {
		span.SetStatus(codes.Error, outcome.Err.Error())
		return outcome
	}

	u.stats.Update(took, transfer.Len())
	if u.config.Observer != nil {
		u.config.Observer.ChunkSent(transfer, status, took)
	}
	u.logger.Debugf("Chunk %d acknowledged with %d in %v", transfer.Index+1, status, took.Round(time.Millisecond))

	return outcome
}

// transition applies one chunk response to the state machine.
func transition(transfer Transfer, status int, body []byte, session mediaapi.Session) Outcome {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		if transfer.IsFinal() {
			return Completed(resourceURL(body, session))
		}
		return InProgress(percentOf(transfer))
	case http.StatusAccepted:
		if transfer.IsFinal() {
			return Failed(&mediaapi.ProtocolError{
				Reason: "final chunk was accepted but the upload was not completed",
				Body:   string(body),
			})
		}
		return InProgress(percentOf(transfer))
	default:
		return Failed(&mediaapi.UpstreamChunkError{Status: status, Range: transfer.ContentRange(), Body: string(body)})
	}
}

// percentOf rounds to the nearest percent; only a completed upload reaches 100.
func percentOf(transfer Transfer) int {
	percent := int(math.Round(float64(transfer.End) / float64(transfer.Total) * 100))
	if percent >= 100 && !transfer.IsFinal() {
		return 99
	}
	return percent
}

// resourceURL prefers the url in the final response, then the file url
// announced with the session, then the session url without its query.
func resourceURL(body []byte, session mediaapi.Session) string {
	if resp, err := mediaapi.DecodeEnvelope(body); err == nil && !resp.IsEmpty() {
		var created struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(resp.Payload, &created); err == nil && created.URL != "" {
			return created.URL
		}
	}
	if session.FileURL != "" {
		return session.FileURL
	}
	return session.BaseURL()
}

func (u *Uploader) uploadChunk(ctx context.Context, url string, source Source, transfer Transfer) (int, []byte, error) {
	reqCtx := context.WithoutCancel(ctx)
	if u.config.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, u.config.ChunkTimeout)
		defer cancel()
	}

	body := io.NewSectionReader(source, transfer.Start, transfer.Len())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = transfer.Len()
	req.Header.Set("Content-Range", transfer.ContentRange())
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return 0, nil, &mediaapi.NetworkError{Op: fmt.Sprintf("PUT chunk %d", transfer.Index+1), Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			u.logger.Warnf("close chunk response body: %s", err)
		}
	}(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return 0, nil, &mediaapi.NetworkError{Op: fmt.Sprintf("read chunk %d response", transfer.Index+1), Err: err}
	}

	return resp.StatusCode, data, nil
}
