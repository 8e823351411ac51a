package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/3leaps/verifarm/internal/errors"
	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/output"
)

// StatusSource exposes the live counters of a running batch. *engine.Batch
// satisfies it.
type StatusSource interface {
	Snapshot() engine.Snapshot
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID    string                 `json:"run_id"`
	Project  string                 `json:"project,omitempty"`
	Workers  int                    `json:"workers"`
	Started  time.Time              `json:"started"`
	Elapsed  string                 `json:"elapsed"`
	Progress *output.ProgressRecord `json:"progress"`
}

// StatusTracker holds the batch currently being served. It is empty until
// Attach is called.
type StatusTracker struct {
	mu      sync.RWMutex
	src     StatusSource
	runID   string
	project string
	workers int
	started time.Time
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

// Attach points the tracker at a batch.
func (t *StatusTracker) Attach(src StatusSource, runID, project string, workers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.src = src
	t.runID = runID
	t.project = project
	t.workers = workers
	t.started = time.Now()
}

// StatusHandler serves the current snapshot.
func (t *StatusTracker) StatusHandler(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	src := t.src
	resp := StatusResponse{
		RunID:   t.runID,
		Project: t.project,
		Workers: t.workers,
		Started: t.started.UTC(),
	}
	t.mu.RUnlock()

	if src == nil {
		respondWithError(w, r, apperrors.ServiceUnavailable("no batch attached"))
		return
	}
	resp.Elapsed = time.Since(resp.Started).Round(time.Millisecond).String()
	resp.Progress = output.NewProgressRecord(src.Snapshot())
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// CheckHealth reports unhealthy once the batch has seen a system failure.
func (t *StatusTracker) CheckHealth(ctx context.Context) error {
	t.mu.RLock()
	src := t.src
	t.mu.RUnlock()
	if src == nil {
		return nil
	}
	if src.Snapshot().SystemFailure {
		return errors.New("system failure detected")
	}
	return ctx.Err()
}

var _ HealthChecker = (*StatusTracker)(nil)
