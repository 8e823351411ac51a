//go:build unix

package engine

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_SignalRequestsShutdown(t *testing.T) {
	root := t.TempDir()
	script := writeScript(t, root, "run.sh", "exit 0")

	sub := testSubmission(filepath.Join(root, "out"), script)
	sub.RunCount = 50

	b := NewBatch()
	expandInto(t, b, sub)

	// Keeps SIGUSR1 from terminating the test binary if it lands outside Run.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	sink := make(chanSink, 64)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sink:
				_ = syscall.Kill(os.Getpid(), syscall.SIGUSR1)
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
		signal.Stop(guard)
	})

	res, err := NewCoordinator(b, Config{
		Workers:         2,
		MonitorInterval: fastTick,
		Runner:          runner,
		Sink:            sink,
		Signals:         []os.Signal{syscall.SIGUSR1},
	}).Run(context.Background())
	require.NoError(t, err)

	snap := res.Snapshot
	assert.True(t, snap.ShutdownRequested)
	assert.Equal(t, ReasonInterrupt, snap.Reason)
	assert.Positive(t, snap.Pending)
	assert.Equal(t, 50, snap.Done+snap.Pending)
	assert.Len(t, res.Outcomes, snap.Done)
	assert.FileExists(t, res.ReportPath)
}
