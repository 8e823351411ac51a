package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/verifarm/internal/errors"
	"github.com/3leaps/verifarm/internal/server/handlers"
	"github.com/3leaps/verifarm/pkg/engine"
)

type snapshotSource engine.Snapshot

func (s snapshotSource) Snapshot() engine.Snapshot { return engine.Snapshot(s) }

func get(t *testing.T, srv *Server, method, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_ErrorEnvelopes(t *testing.T) {
	srv := New("127.0.0.1", 0)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantErr  string
	}{
		{"unknown route", http.MethodGet, "/jobs", http.StatusNotFound, apperrors.CodeNotFound},
		{"post to status", http.MethodPost, "/status", http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed},
		{"delete version", http.MethodDelete, "/version", http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.method, tt.path, "X-Request-ID", "req-"+tt.name)
			require.Equal(t, tt.wantCode, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantErr, body.Error.Code)
			assert.Contains(t, body.Error.Message, tt.path)
			assert.Equal(t, "req-"+tt.name, body.Error.RequestID)
		})
	}
}

func TestServer_Port(t *testing.T) {
	assert.Equal(t, 9000, New("127.0.0.1", 9000).Port())
	assert.Zero(t, New("127.0.0.1", 0).Port())
}

func TestServer_ReadinessTracksBatch(t *testing.T) {
	handlers.InitHealthManager("test")
	t.Cleanup(func() { handlers.InitHealthManager("test") })

	srv := New("127.0.0.1", 0)
	handlers.GetHealthManager().RegisterChecker("batch", srv.Status())

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		assert.Equal(t, http.StatusOK, get(t, srv, http.MethodGet, path).Code, path)
	}

	srv.Status().Attach(snapshotSource{Total: 4, Done: 1, Failed: 1, Pending: 3, SystemFailure: true}, "run-1", "regress", 2)

	rec := get(t, srv, http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeServiceUnavailable, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID, "minted by the request id middleware")

	assert.Equal(t, http.StatusOK, get(t, srv, http.MethodGet, "/health/live").Code, "the process is still serving")
}

func TestServer_StatusRoute(t *testing.T) {
	tracker := handlers.NewStatusTracker()
	srv := New("127.0.0.1", 0, WithStatus(tracker))
	assert.Same(t, tracker, srv.Status())

	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, http.MethodGet, "/status").Code, "no batch attached yet")

	tracker.Attach(engine.NewBatch(), "run-1", "regress", 2)

	rec := get(t, srv, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 2, body.Workers)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New("127.0.0.1", 0)
	require.NoError(t, srv.Start(t.Context()))
	defer func() { _ = srv.Shutdown(t.Context()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
	require.NoError(t, srv.Shutdown(t.Context()), "second shutdown is a no-op")
}
