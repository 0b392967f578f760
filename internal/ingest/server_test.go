package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restitch/restitch/internal/chunk"
	"github.com/restitch/restitch/internal/config"
	"github.com/restitch/restitch/pkg/proto"
)

// newTestServer builds a full ingest server over in-memory filesystems.
// mutate adjusts the config before validation; nil keeps the defaults.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, billy.Filesystem) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	store, err := chunk.NewStore(memfs.New())
	require.NoError(t, err)
	out := memfs.New()

	processor := chunk.NewProcessor(
		store,
		chunk.NewAssembler(store),
		chunk.NewOutputStore(out),
		chunk.NewCleaner(store, 0),
		chunk.NewSweeper(store, time.Hour),
	)

	srv := NewServer(cfg, processor)
	srv.SetVersion("test")
	return srv, out
}

// chunkBody marshals one chunk message the way devices send it.
func chunkBody(t *testing.T, device, id, filepath string, part, maxPart int, payload string) *bytes.Reader {
	t.Helper()

	msg := proto.ChunkMessage{
		DeviceID: device,
		Properties: proto.MessageProperties{
			ID:          id,
			FilePath:    filepath,
			Part:        &part,
			MaxPart:     maxPart,
			Compression: "none",
		},
		Telemetry: proto.Telemetry{ContentChunk: payload},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func postChunk(srv *Server, body *bytes.Reader, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chunks", body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "restitch_")
}

func TestHandleTrace_NotEnabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/trace", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracing not enabled")
}

func TestHandleChunks_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chunks", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleChunks_SinglePart(t *testing.T) {
	srv, out := newTestServer(t, nil)

	content := []byte(`{"temperature": 21.5}`)
	payload := base64.StdEncoding.EncodeToString(content)

	rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 1, payload), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String(), "success acknowledgement carries no body")

	written, err := util.ReadFile(out, "logs/temp.json")
	require.NoError(t, err)
	assert.Equal(t, content, written)
}

func TestHandleChunks_MultiPartOutOfOrder(t *testing.T) {
	srv, out := newTestServer(t, nil)

	content := []byte(`{"temperature": 21.5, "unit": "C", "samples": [1, 2, 3, 4, 5]}`)
	b64 := base64.StdEncoding.EncodeToString(content)
	pieces := []string{b64[:10], b64[10:25], b64[25:]}

	// Deliver parts 2, 3, 1
	for _, part := range []int{2, 3, 1} {
		rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", part, 3, pieces[part-1]), "")
		require.Equal(t, http.StatusOK, rec.Code, "part %d", part)
		assert.Empty(t, rec.Body.String())
	}

	written, err := util.ReadFile(out, "logs/temp.json")
	require.NoError(t, err)
	assert.Equal(t, content, written)
}

func TestHandleChunks_IncompleteSetWritesNothing(t *testing.T) {
	srv, out := newTestServer(t, nil)

	rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 3, "QUJD"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := util.ReadFile(out, "logs/temp.json")
	assert.Error(t, err, "artifact must not exist before the set completes")
}

func TestHandleChunks_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// part is absent
	msg := proto.ChunkMessage{
		DeviceID: "sensor-1",
		Properties: proto.MessageProperties{
			ID:          "msg-1",
			FilePath:    "logs/temp.json",
			MaxPart:     3,
			Compression: "none",
		},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	rec := postChunk(srv, bytes.NewReader(data), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "missing part\n", rec.Body.String())
}

func TestHandleChunks_UndecodableBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postChunk(srv, bytes.NewReader([]byte("{not json")), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "decode request body")
}

func TestHandleChunks_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxBodySize = "1KB"
	})

	payload := strings.Repeat("A", 4096)
	rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 1, payload), "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body too large")
}

func TestHandleChunks_StaticTokenAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.AuthToken = "test-token-12345"
	})

	body := func() *bytes.Reader {
		return chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 1, "QUJD")
	}

	// No header
	rec := postChunk(srv, body(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")

	// Malformed header
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chunks", body())
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid authorization header")

	// Wrong token
	rec = postChunk(srv, body(), "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")

	// Right token
	rec = postChunk(srv, body(), "test-token-12345")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleChunks_JWTAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.JWTSecret = "test-secret-key"
	})

	token, err := IssueDeviceToken([]byte("test-secret-key"), "sensor-1", time.Hour)
	require.NoError(t, err)

	// Token subject matches the message device
	rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 1, "QUJD"), token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Token subject does not match
	rec = postChunk(srv, chunkBody(t, "sensor-2", "msg-2", "logs/temp.json", 1, 1, "QUJD"), token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "token not valid for device")

	// Garbage token
	rec = postChunk(srv, chunkBody(t, "sensor-1", "msg-3", "logs/temp.json", 1, 1, "QUJD"), "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleChunks_ProcessingFailure(t *testing.T) {
	srv, out := newTestServer(t, nil)

	// Single-part set whose content is not valid base64
	rec := postChunk(srv, chunkBody(t, "sensor-1", "msg-1", "logs/temp.json", 1, 1, "!!! not base64 !!!"), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "decode content")

	_, err := util.ReadFile(out, "logs/temp.json")
	assert.Error(t, err)
}

func TestHealthAndMetricsSkipAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.AuthToken = "test-token-12345"
	})

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "%s must not require auth", path)
	}
}
