package mediaapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL, apiKey string) *Client {
	t.Helper()

	config := DefaultConfig()
	config.BaseURL = baseURL
	config.APIKey = apiKey
	config.RetryMax = 2
	config.RetryWaitMin = time.Millisecond
	config.RetryWaitMax = 5 * time.Millisecond

	client := NewClient(config, log.NewLogger())
	client.now = func() time.Time { return fixedNow }
	return client
}

func TestClient_CreateResumableSession(t *testing.T) {
	var got SignatureRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/signatures", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, err := io.WriteString(w, `{"meta":{"type":"object"},"data":{"url":"https://upload.example.com/u/123?sig=abc","method":"put","expiry":1714565400,"filename":"clip.mp4","folder":"videos"}}`)
		require.NoError(t, err)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "secret-key")

	session, err := client.CreateResumableSession(context.Background(), "https://cdn.example.com/media/clip%20one.mp4?x=1", "videos")
	require.NoError(t, err)

	assert.Equal(t, SignatureRequest{
		Filename:  "clip one.mp4",
		Folder:    "videos",
		Method:    "put",
		Resumable: true,
		Expiry:    fixedNow.Add(10 * time.Minute).Unix(),
		Metadata:  &SignatureMetadata{Title: "clip one.mp4"},
	}, got)
	assert.Equal(t, "https://upload.example.com/u/123?sig=abc", session.URL)
	assert.Equal(t, "https://upload.example.com/u/123", session.BaseURL())
	assert.Equal(t, "clip.mp4", session.Filename)
	assert.Equal(t, time.Unix(1714565400, 0), session.Expiry)
}

func TestClient_MissingCredentialMakesNoCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")

	_, err := client.CreateResumableSession(context.Background(), "clip.mp4", "")
	require.Error(t, err)

	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, CredentialEnvKey, configErr.Setting)
	assert.Equal(t, "Missing ITTYBIT_API_KEY", err.Error())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestClient_SigningErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantReason string
		wantProto  bool
	}{
		{
			name:       "json error message",
			status:     http.StatusForbidden,
			body:       `{"message":"Invalid API key"}`,
			wantStatus: http.StatusForbidden,
			wantReason: "Invalid API key",
		},
		{
			name:       "plain text error",
			status:     http.StatusBadGateway,
			body:       "bad gateway",
			wantStatus: http.StatusBadGateway,
			wantReason: "bad gateway",
		},
		{
			name:      "success without url",
			status:    http.StatusOK,
			body:      `{"data":{"method":"put"}}`,
			wantProto: true,
		},
		{
			name:      "success with non json body",
			status:    http.StatusOK,
			body:      "ok",
			wantProto: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, "key")
			_, err := client.CreateResumableSession(context.Background(), "clip.mp4", "")
			require.Error(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "signing must not be retried")

			if tt.wantProto {
				var protoErr *ProtocolError
				assert.True(t, errors.As(err, &protoErr))
				return
			}

			var upstreamErr *UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, tt.wantStatus, upstreamErr.Status)
			assert.Equal(t, tt.body, upstreamErr.Body)
			assert.Equal(t, tt.wantReason, Reason(err))
		})
	}
}

func TestClient_IdempotentRequestsAreRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"task_1","status":"processing"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "key")
	task, err := client.GetTask(context.Background(), "task_1")
	require.NoError(t, err)

	assert.Equal(t, "task_1", task.ID)
	assert.Equal(t, "processing", task.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ListFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "enveloped list", body: `{"meta":{"total":2},"data":[{"id":"file_1","url":"u1"},{"id":"file_2","url":"u2"}]}`, want: []string{"file_1", "file_2"}},
		{name: "bare list", body: `[{"id":"file_3"}]`, want: []string{"file_3"}},
		{name: "double wrapped list", body: `{"data":{"data":[{"id":"file_4"}]}}`, want: []string{"file_4"}},
		{name: "unexpected object", body: `{"data":{"id":"file_5"}}`, want: []string{}},
		{name: "empty body", body: ``, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/files", r.URL.Path)
				assert.Equal(t, "12", r.URL.Query().Get("limit"))
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			files, err := newTestClient(t, server.URL, "key").ListFiles(context.Background(), 0)
			require.NoError(t, err)

			ids := []string{}
			for _, f := range files {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestClient_RenameAndDeleteFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/file_abc", r.URL.Path)
		switch r.Method {
		case http.MethodPatch:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "renamed.mp4", body["filename"])
			_, _ = io.WriteString(w, `{"data":{"id":"file_abc","filename":"renamed.mp4","url":"https://cdn/x","extra":true}}`)
		case http.MethodDelete:
			_, _ = io.WriteString(w, `{"meta":{},"data":{"message":"deleted"}}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "key")

	file, err := client.RenameFile(context.Background(), "file_abc", "renamed.mp4")
	require.NoError(t, err)
	assert.Equal(t, "renamed.mp4", file.Filename)

	out, err := json.Marshal(file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"file_abc","filename":"renamed.mp4","url":"https://cdn/x","extra":true}`, string(out))

	payload, err := client.DeleteFile(context.Background(), "file_abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"deleted"}`, string(payload))
}

func TestClient_CreateFileFromURL(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "file payload", body: `{"data":{"id":"file_1","url":"https://cdn/1"}}`},
		{name: "task payload", body: `{"data":{"id":"task_1","status":"queued"}}`, wantErr: true},
		{name: "file without url", body: `{"id":"file_1"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body FileFromURLRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "https://example.com/a.mp4", body.URL)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			file, err := newTestClient(t, server.URL, "key").CreateFileFromURL(context.Background(), FileFromURLRequest{URL: "https://example.com/a.mp4"})
			if tt.wantErr {
				var protoErr *ProtocolError
				require.True(t, errors.As(err, &protoErr))
				assert.Equal(t, "Not a File payload", protoErr.Reason)
				return
			}
			require.NoError(t, err)
			assert.True(t, file.IsFile())
		})
	}
}

func TestClient_SignDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got SignatureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "get", got.Method)
		assert.False(t, got.Resumable)
		assert.Nil(t, got.Metadata)
		assert.Equal(t, fixedNow.Add(5*time.Minute).Unix(), got.Expiry)
		_, _ = io.WriteString(w, `{"url":"https://cdn.example.com/private/a.mp4?sig=1","method":"get"}`)
	}))
	defer server.Close()

	sig, err := newTestClient(t, server.URL, "key").SignDownload(context.Background(), "a.mp4", "private")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/private/a.mp4?sig=1", sig.URL)

	out, err := json.Marshal(sig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://cdn.example.com/private/a.mp4?sig=1","method":"get"}`, string(out))
}

func TestRouteOf(t *testing.T) {
	assert.Equal(t, "/files", routeOf("/files?limit=12"))
	assert.Equal(t, "/files/{id}", routeOf("/files/file_1"))
	assert.Equal(t, "/signatures", routeOf("/signatures"))
}
