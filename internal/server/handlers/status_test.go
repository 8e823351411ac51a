package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/verifarm/pkg/engine"
)

type fixedSource engine.Snapshot

func (s fixedSource) Snapshot() engine.Snapshot { return engine.Snapshot(s) }

func TestStatusTracker_NotAttached(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStatusTracker().StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusTracker_ServesSnapshot(t *testing.T) {
	tr := NewStatusTracker()
	tr.Attach(fixedSource{Total: 8, Done: 2, Passed: 1, Failed: 1, Pending: 6}, "run-3", "regress", 4)

	rec := httptest.NewRecorder()
	tr.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run-3", resp.RunID)
	assert.Equal(t, "regress", resp.Project)
	assert.Equal(t, 4, resp.Workers)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 25, resp.Progress.Percent)
	assert.Equal(t, 6, resp.Progress.Pending)
}

func TestStatusTracker_CheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		src     StatusSource
		wantErr bool
	}{
		{"detached", nil, false},
		{"running", fixedSource{Total: 1}, false},
		{"system failure", fixedSource{Total: 1, SystemFailure: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewStatusTracker()
			if tt.src != nil {
				tr.Attach(tt.src, "run", "", 1)
			}
			err := tr.CheckHealth(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	SetVersionInfo(VersionInfo{Name: "verifarm", Version: "1.4.0", Commit: "abc", BuildDate: "2025-03-04"})
	t.Cleanup(func() { SetVersionInfo(VersionInfo{Name: "verifarm", Version: "dev"}) })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc", info.Commit)
}
