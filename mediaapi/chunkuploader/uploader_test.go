package chunkuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

// zeroSource is a sized source of zero bytes that allocates nothing up front.
type zeroSource struct {
	size int64
}

func (s zeroSource) Size() int64 { return s.size }

func (s zeroSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := s.size - off; int64(n) > remaining {
		n = int(remaining)
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type recordedChunk struct {
	contentRange string
	length       int
	body         []byte
}

type fakeSession struct {
	mu       sync.Mutex
	chunks   []recordedChunk
	respond  func(index int, r *http.Request) (int, string)
	keepBody bool
}

func (f *fakeSession) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		f.mu.Lock()
		index := len(f.chunks)
		chunk := recordedChunk{contentRange: r.Header.Get("Content-Range"), length: len(body)}
		if f.keepBody {
			chunk.body = body
		}
		f.chunks = append(f.chunks, chunk)
		f.mu.Unlock()

		status, respBody := f.respond(index, r)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	})
}

func (f *fakeSession) recorded() []recordedChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedChunk(nil), f.chunks...)
}

func newTestUploader(chunkSize int64) *Uploader {
	config := DefaultConfig()
	config.ChunkSize = chunkSize
	return New(config, log.NewLogger())
}

func acceptUntilFinal(finalStatus int, finalBody string) func(int, *http.Request) (int, string) {
	return func(index int, r *http.Request) (int, string) {
		if isFinalRange(r.Header.Get("Content-Range")) {
			return finalStatus, finalBody
		}
		return http.StatusAccepted, ""
	}
}

func isFinalRange(contentRange string) bool {
	var start, end, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes=%d-%d/%d", &start, &end, &total); err != nil {
		return false
	}
	return end+1 == total
}

func TestUploader_Upload_FortyMiBInThreeChunks(t *testing.T) {
	session := &fakeSession{respond: acceptUntilFinal(http.StatusCreated, "")}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	uploader := newTestUploader(16 * mib)
	defer uploader.CloseIdleConnections()

	var progress []int
	outcome, err := uploader.Upload(context.Background(),
		mediaapi.Session{URL: server.URL + "/upload/1?sig=abc"},
		zeroSource{size: 40 * mib},
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, server.URL+"/upload/1", outcome.ResourceURL)

	chunks := session.recorded()
	require.Len(t, chunks, 3)
	assert.Equal(t, "bytes=0-16777215/41943040", chunks[0].contentRange)
	assert.Equal(t, "bytes=16777216-33554431/41943040", chunks[1].contentRange)
	assert.Equal(t, "bytes=33554432-41943039/41943040", chunks[2].contentRange)
	assert.Equal(t, 16*mib, chunks[0].length)
	assert.Equal(t, 16*mib, chunks[1].length)
	assert.Equal(t, 8*mib, chunks[2].length)

	assert.Equal(t, []int{40, 80, 100}, progress)
	assert.Equal(t, int64(3), uploader.Stats().FinishedCount())
	assert.Equal(t, int64(40*mib), uploader.Stats().BytesSent())
}

func TestUploader_Upload_SingleChunk(t *testing.T) {
	session := &fakeSession{respond: acceptUntilFinal(http.StatusOK, `{"url":"https://cdn.example.com/file_1.mp4"}`)}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	outcome, err := newTestUploader(16*mib).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, zeroSource{size: 10 * mib}, nil)
	require.NoError(t, err)

	chunks := session.recorded()
	require.Len(t, chunks, 1)
	assert.Equal(t, "bytes=0-10485759/10485760", chunks[0].contentRange)
	assert.Equal(t, Completed("https://cdn.example.com/file_1.mp4"), outcome)
}

func TestUploader_Upload_SendsSourceBytesInOrder(t *testing.T) {
	data := []byte("0123456789abcdefghij-tail")
	session := &fakeSession{respond: acceptUntilFinal(http.StatusNoContent, ""), keepBody: true}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	_, err := newTestUploader(10).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, bytes.NewReader(data), nil)
	require.NoError(t, err)

	var received []byte
	for _, chunk := range session.recorded() {
		received = append(received, chunk.body...)
	}
	assert.Equal(t, data, received)
	assert.Len(t, session.recorded(), 3)
}

func TestUploader_Upload_ResourceURLFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		fileURL string
		want    string
	}{
		{name: "empty body strips query", body: "", want: "/upload/9"},
		{name: "bare url in body", body: `{"url":"https://cdn/a.mp4"}`, want: "https://cdn/a.mp4"},
		{name: "enveloped url in body", body: `{"meta":{},"data":{"id":"file_1","url":"https://cdn/b.mp4"}}`, want: "https://cdn/b.mp4"},
		{name: "non json body strips query", body: "Created", want: "/upload/9"},
		{name: "session file url", body: `{"id":"file_1"}`, fileURL: "https://cdn/c.mp4", want: "https://cdn/c.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{respond: acceptUntilFinal(http.StatusCreated, tt.body)}
			server := httptest.NewServer(session.handler(t))
			defer server.Close()

			want := tt.want
			if want[0] == '/' {
				want = server.URL + want
			}

			outcome, err := newTestUploader(4).Upload(context.Background(),
				mediaapi.Session{URL: server.URL + "/upload/9?sig=abc", FileURL: tt.fileURL},
				bytes.NewReader([]byte("abcdefgh")), nil)
			require.NoError(t, err)
			assert.Equal(t, want, outcome.ResourceURL)
		})
	}
}

func TestUploader_Upload_RejectedChunkStopsUpload(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError, http.StatusPartialContent} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			session := &fakeSession{respond: func(index int, r *http.Request) (int, string) {
				if index == 1 {
					return status, `{"message":"Upload not found"}`
				}
				return http.StatusAccepted, ""
			}}
			server := httptest.NewServer(session.handler(t))
			defer server.Close()

			var progress []int
			outcome, err := newTestUploader(10).Upload(context.Background(),
				mediaapi.Session{URL: server.URL}, zeroSource{size: 50},
				func(p int) { progress = append(progress, p) })
			require.Error(t, err)

			var chunkErr *mediaapi.UpstreamChunkError
			require.True(t, errors.As(err, &chunkErr))
			assert.Equal(t, status, chunkErr.Status)
			assert.Equal(t, "bytes=10-19/50", chunkErr.Range)

			assert.Equal(t, StateFailed, outcome.State)
			assert.Equal(t, fmt.Sprintf("Chunk failed (%d): Upload not found. Please retry.", status), outcome.Reason())
			assert.Len(t, session.recorded(), 2, "no chunk may follow a rejected one")
			assert.Equal(t, []int{20}, progress)
		})
	}
}

func TestUploader_Upload_AcceptedFinalChunkIsProtocolError(t *testing.T) {
	session := &fakeSession{respond: func(int, *http.Request) (int, string) { return http.StatusAccepted, "" }}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	var progress []int
	outcome, err := newTestUploader(5).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, zeroSource{size: 10},
		func(p int) { progress = append(progress, p) })

	var protoErr *mediaapi.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, []int{50}, progress)
	assert.Len(t, session.recorded(), 2)
}

func TestUploader_Upload_ProgressNeverReaches100Early(t *testing.T) {
	session := &fakeSession{respond: acceptUntilFinal(http.StatusCreated, "")}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	var progress []int
	_, err := newTestUploader(996).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, zeroSource{size: 1000},
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{99, 100}, progress)
}

func TestUploader_Upload_ProgressIsMonotonic(t *testing.T) {
	session := &fakeSession{respond: acceptUntilFinal(http.StatusCreated, "")}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	var progress []int
	_, err := newTestUploader(7).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, zeroSource{size: 100},
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	require.Len(t, progress, 15)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 100, progress[len(progress)-1])
	for _, p := range progress[:len(progress)-1] {
		assert.Less(t, p, 100)
	}
}

func TestUploader_Upload_CancelBetweenChunks(t *testing.T) {
	session := &fakeSession{respond: acceptUntilFinal(http.StatusCreated, "")}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome, err := newTestUploader(10).Upload(ctx,
		mediaapi.Session{URL: server.URL}, zeroSource{size: 30},
		func(int) { cancel() })

	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateFailed, outcome.State)
	assert.Len(t, session.recorded(), 1)
}

func TestUploader_Upload_InFlightChunkIsNotAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		cancel()
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	var progress []int
	_, err := newTestUploader(10).Upload(ctx,
		mediaapi.Session{URL: server.URL}, zeroSource{size: 20},
		func(p int) { progress = append(progress, p) })

	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []int{50}, progress, "the chunk in flight completes before cancellation applies")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUploader_Upload_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	outcome, err := newTestUploader(10).Upload(context.Background(),
		mediaapi.Session{URL: url}, zeroSource{size: 20}, nil)

	var netErr *mediaapi.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, StateFailed, outcome.State)
	assert.NotEmpty(t, outcome.Reason())
}

func TestUploader_Upload_InvalidInput(t *testing.T) {
	uploader := newTestUploader(10)

	_, err := uploader.Upload(context.Background(), mediaapi.Session{URL: "http://127.0.0.1:1"}, zeroSource{}, nil)
	assert.True(t, errors.Is(err, ErrEmptySource))

	_, err = uploader.Upload(context.Background(), mediaapi.Session{}, zeroSource{size: 1}, nil)
	var protoErr *mediaapi.ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

type recordingObserver struct {
	sent   []Transfer
	failed []Transfer
}

func (o *recordingObserver) ChunkSent(transfer Transfer, status int, took time.Duration) {
	o.sent = append(o.sent, transfer)
}

func (o *recordingObserver) ChunkFailed(transfer Transfer, err error) {
	o.failed = append(o.failed, transfer)
}

func TestUploader_Upload_NotifiesObserver(t *testing.T) {
	session := &fakeSession{respond: func(index int, r *http.Request) (int, string) {
		if index == 2 {
			return http.StatusConflict, ""
		}
		return http.StatusAccepted, ""
	}}
	server := httptest.NewServer(session.handler(t))
	defer server.Close()

	observer := &recordingObserver{}
	config := DefaultConfig()
	config.ChunkSize = 4
	config.Observer = observer

	_, err := New(config, log.NewLogger()).Upload(context.Background(),
		mediaapi.Session{URL: server.URL}, zeroSource{size: 16}, nil)
	require.Error(t, err)

	assert.Len(t, observer.sent, 2)
	require.Len(t, observer.failed, 1)
	assert.Equal(t, 2, observer.failed[0].Index)
}

func TestStats(t *testing.T) {
	stats := NewStats()

	if stats.FinishedCount() != 0 {
		t.Errorf("Expected 0 finished, got %d", stats.FinishedCount())
	}

	if stats.Average() != 0 {
		t.Errorf("Expected 0 average, got %v", stats.Average())
	}

	stats.Update(100*time.Millisecond, 10)
	stats.Update(200*time.Millisecond, 10)
	stats.Update(300*time.Millisecond, 5)

	if stats.FinishedCount() != 3 {
		t.Errorf("Expected 3 finished, got %d", stats.FinishedCount())
	}

	expectedAvg := 200 * time.Millisecond
	if stats.Average() != expectedAvg {
		t.Errorf("Expected %v average, got %v", expectedAvg, stats.Average())
	}

	expectedTotal := 600 * time.Millisecond
	if stats.TotalDuration() != expectedTotal {
		t.Errorf("Expected %v total, got %v", expectedTotal, stats.TotalDuration())
	}

	if stats.BytesSent() != 25 {
		t.Errorf("Expected 25 bytes, got %d", stats.BytesSent())
	}
}
