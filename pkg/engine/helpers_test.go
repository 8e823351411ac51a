package engine

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/verifarm/pkg/submission"
)

// writeScript creates an executable /bin/sh script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// touchFiles creates empty files and returns dir.
func touchFiles(t *testing.T, dir string, names ...string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	return dir
}

func testSubmission(outDir, script string) submission.Submission {
	s := submission.New(outDir, "proj", "unit", script)
	return s
}

var fixedStart = time.Date(2025, time.March, 4, 9, 15, 2, 0, time.UTC)

func expandInto(t *testing.T, b *Batch, subs ...submission.Submission) *Expander {
	t.Helper()
	e := NewExpander(b, ExpanderConfig{StartedAt: fixedStart})
	for _, s := range subs {
		_, err := e.Expand(s)
		require.NoError(t, err)
	}
	return e
}

// fakeRunner simulates jobs without spawning processes.
type fakeRunner struct {
	exit  func(j *Job) int
	delay time.Duration

	mu   sync.Mutex
	seen []int
}

func (f *fakeRunner) Run(job *Job) (int, error) {
	job.RunPath = job.RunDir()
	f.mu.Lock()
	f.seen = append(f.seen, job.Seq)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.exit == nil {
		return 0, nil
	}
	return f.exit(job), nil
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// chanSink forwards outcomes to a channel.
type chanSink chan Outcome

func (c chanSink) OutcomeRecorded(o Outcome) {
	select {
	case c <- o:
	default:
	}
}
