package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	signStatus int
	signBody   string

	puts      int32
	mu        sync.Mutex
	signature map[string]interface{}
	ranges    []string
}

func (f *fakeUpstream) handler(t *testing.T, serverURL func() string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/signatures":
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.mu.Lock()
			f.signature = body
			f.mu.Unlock()

			if f.signStatus != 0 {
				w.WriteHeader(f.signStatus)
				_, _ = io.WriteString(w, f.signBody)
				return
			}
			_, _ = io.WriteString(w, `{"meta":{"type":"object"},"data":{"url":"`+serverURL()+`/sessions/abc?sig=abc","method":"put"}}`)
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/sessions/"):
			atomic.AddInt32(&f.puts, 1)
			_, _ = io.Copy(io.Discard, r.Body)
			contentRange := r.Header.Get("Content-Range")
			f.mu.Lock()
			f.ranges = append(f.ranges, contentRange)
			f.mu.Unlock()
			if strings.HasSuffix(contentRange, "-9/10") {
				w.WriteHeader(http.StatusCreated)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestResumable(t *testing.T, upstream *fakeUpstream, apiKey string) (*Resumable, *httptest.Server) {
	var server *httptest.Server
	server = httptest.NewServer(upstream.handler(t, func() string { return server.URL }))
	t.Cleanup(server.Close)

	logger := log.NewLogger()
	config := mediaapi.DefaultConfig()
	config.BaseURL = server.URL
	config.APIKey = apiKey
	config.RetryWaitMin = time.Millisecond
	config.RetryWaitMax = time.Millisecond

	driverConfig := chunkuploader.DefaultConfig()
	driverConfig.ChunkSize = 4

	return NewResumable(mediaapi.NewClient(config, logger), chunkuploader.New(driverConfig, logger), logger), server
}

func TestResumable_Upload(t *testing.T) {
	upstream := &fakeUpstream{}
	resumable, server := newTestResumable(t, upstream, "test-key")

	var progress []int
	outcome, err := resumable.Upload(context.Background(), bytes.NewReader([]byte("0123456789")),
		"https://example.com/media/clip%201.mp4?x=1", "videos", func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, chunkuploader.Completed(server.URL+"/sessions/abc"), outcome)
	assert.Equal(t, []int{40, 80, 100}, progress)
	assert.Equal(t, []string{"bytes=0-3/10", "bytes=4-7/10", "bytes=8-9/10"}, upstream.ranges)

	assert.Equal(t, "clip 1.mp4", upstream.signature["filename"])
	assert.Equal(t, "videos", upstream.signature["folder"])
	assert.Equal(t, "put", upstream.signature["method"])
	assert.Equal(t, true, upstream.signature["resumable"])
	assert.Equal(t, map[string]interface{}{"title": "clip 1.mp4"}, upstream.signature["metadata"])
}

func TestResumable_Upload_SigningFailureSendsNoChunks(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{name: "json message", status: http.StatusForbidden, body: `{"message":"Invalid key"}`, wantReason: "Invalid key"},
		{name: "plain text", status: http.StatusBadGateway, body: "bad gateway", wantReason: "bad gateway"},
		{name: "success without url", status: http.StatusOK, body: `{"data":{"method":"put"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeUpstream{signStatus: tt.status, signBody: tt.body}
			resumable, _ := newTestResumable(t, upstream, "test-key")

			outcome, err := resumable.Upload(context.Background(), bytes.NewReader([]byte("0123456789")), "a.mp4", "", nil)
			require.Error(t, err)

			assert.Equal(t, chunkuploader.StateFailed, outcome.State)
			assert.Equal(t, int32(0), atomic.LoadInt32(&upstream.puts))
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, outcome.Reason())
			} else {
				var protoErr *mediaapi.ProtocolError
				assert.True(t, errors.As(err, &protoErr))
			}
		})
	}
}

func TestResumable_Upload_MissingCredential(t *testing.T) {
	upstream := &fakeUpstream{}
	resumable, _ := newTestResumable(t, upstream, "")

	outcome, err := resumable.Upload(context.Background(), bytes.NewReader([]byte("0123456789")), "a.mp4", "", nil)

	var configErr *mediaapi.ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "Missing ITTYBIT_API_KEY", outcome.Reason())
	assert.Nil(t, upstream.signature)
	assert.Equal(t, int32(0), atomic.LoadInt32(&upstream.puts))
}

type mockInitiator struct {
	mock.Mock
}

func (m *mockInitiator) CreateResumableSession(ctx context.Context, filename, folder string) (mediaapi.Session, error) {
	args := m.Called(ctx, filename, folder)
	return args.Get(0).(mediaapi.Session), args.Error(1)
}

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Upload(ctx context.Context, session mediaapi.Session, source chunkuploader.Source, progress chunkuploader.ProgressFunc) (chunkuploader.Outcome, error) {
	args := m.Called(ctx, session, source, progress)
	return args.Get(0).(chunkuploader.Outcome), args.Error(1)
}

func TestResumable_Upload_EmptySourceIsRejectedBeforeSigning(t *testing.T) {
	initiator := new(mockInitiator)
	driver := new(mockDriver)

	outcome, err := NewResumable(initiator, driver, log.NewLogger()).
		Upload(context.Background(), bytes.NewReader(nil), "a.mp4", "", nil)

	assert.True(t, errors.Is(err, chunkuploader.ErrEmptySource))
	assert.Equal(t, chunkuploader.StateFailed, outcome.State)
	initiator.AssertNotCalled(t, "CreateResumableSession", mock.Anything, mock.Anything, mock.Anything)
	driver.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResumable_Upload_PassesSessionToDriver(t *testing.T) {
	session := mediaapi.Session{URL: "https://upload.example.com/s/1?sig=x"}
	source := bytes.NewReader([]byte("data"))

	initiator := new(mockInitiator)
	initiator.On("CreateResumableSession", mock.Anything, "a.mp4", "f").Return(session, nil).Once()
	driver := new(mockDriver)
	driver.On("Upload", mock.Anything, session, source, mock.Anything).
		Return(chunkuploader.Completed("https://cdn/a.mp4"), nil).Once()

	outcome, err := NewResumable(initiator, driver, log.NewLogger()).
		Upload(context.Background(), source, "a.mp4", "f", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/a.mp4", outcome.ResourceURL)
	initiator.AssertExpectations(t)
	driver.AssertExpectations(t)
}
