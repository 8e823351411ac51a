package engine

import (
	"sync"

	"github.com/3leaps/verifarm/pkg/submission"
)

// ShutdownReason records why a batch stopped claiming work.
type ShutdownReason string

const (
	ReasonNone          ShutdownReason = ""
	ReasonInterrupt     ShutdownReason = "interrupt"
	ReasonFailThreshold ShutdownReason = "fail_threshold"
	ReasonSystemFailure ShutdownReason = "system_failure"
)

// Batch is the shared state of one engine run: the FIFO of pending jobs,
// the outcome collection, and the counters and flags workers consult.
//
// Every field is guarded by mu. At any observation under the lock,
// done == passed+failed == len(outcomes).
type Batch struct {
	mu sync.Mutex

	queue []*Job
	head  int

	done   int
	passed int
	failed int

	// maxFails is the effective fail threshold; UnlimitedFails disables it.
	maxFails int

	shutdown      bool
	reason        ShutdownReason
	systemFailure bool

	outcomes []Outcome

	projectDir string
}

// NewBatch returns an empty batch with no fail threshold.
func NewBatch() *Batch {
	return &Batch{maxFails: submission.UnlimitedFails}
}

// Snapshot is a consistent copy of the batch counters.
type Snapshot struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Done     int `json:"done"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Recorded int `json:"recorded"`

	// MaxFails is the effective fail threshold, -1 when unlimited.
	MaxFails int `json:"max_fails"`

	ShutdownRequested bool           `json:"shutdown_requested"`
	Reason            ShutdownReason `json:"reason,omitempty"`
	SystemFailure     bool           `json:"system_failure"`
}

// Percent is the completed share of Total, rounded down.
func (s Snapshot) Percent() int {
	if s.Total == 0 {
		return 100
	}
	return s.Done * 100 / s.Total
}

// Snapshot returns the current counters.
func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Total:             len(b.queue),
		Pending:           len(b.queue) - b.head,
		Done:              b.done,
		Passed:            b.passed,
		Failed:            b.failed,
		Recorded:          len(b.outcomes),
		MaxFails:          b.maxFails,
		ShutdownRequested: b.shutdown,
		Reason:            b.reason,
		SystemFailure:     b.systemFailure,
	}
}

// Total is the number of jobs ever queued.
func (b *Batch) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// MaxFails returns the effective fail threshold.
func (b *Batch) MaxFails() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFails
}

// ProjectDir is the directory of the most recently expanded submission's
// project; the summary report is written there.
func (b *Batch) ProjectDir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projectDir
}

// Outcomes returns a copy of the outcomes in completion order.
func (b *Batch) Outcomes() []Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Outcome, len(b.outcomes))
	copy(out, b.outcomes)
	return out
}

// RequestShutdown stops further claims. The first reason given wins.
// It returns false if shutdown had already been requested.
func (b *Batch) RequestShutdown(reason ShutdownReason) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return false
	}
	b.shutdown = true
	b.reason = reason
	return true
}

// ShutdownRequested reports whether workers have been told to stop.
func (b *Batch) ShutdownRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown
}

func (b *Batch) enqueue(j *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, j)
}

func (b *Batch) setProjectDir(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projectDir = dir
}

// tightenThreshold lowers the effective threshold to t. A negative t is
// unlimited and never replaces a real limit.
func (b *Batch) tightenThreshold(t int) {
	if t < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxFails < 0 || t < b.maxFails {
		b.maxFails = t
	}
}

// claim pops the head of the queue. It returns nil when the worker should
// exit: shutdown requested, fail threshold exceeded, or queue drained.
func (b *Batch) claim() *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return nil
	}
	if b.maxFails >= 0 && b.failed > b.maxFails {
		return nil
	}
	if b.head >= len(b.queue) {
		return nil
	}
	j := b.queue[b.head]
	b.head++
	return j
}

// record appends an outcome and bumps the counters in one critical section.
func (b *Batch) record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done++
	if o.Passed() {
		b.passed++
	} else {
		b.failed++
	}
	b.outcomes = append(b.outcomes, o)
}

// markSystemFailure sets the system-failure and shutdown flags together.
func (b *Batch) markSystemFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemFailure = true
	if !b.shutdown {
		b.shutdown = true
		b.reason = ReasonSystemFailure
	}
}

// enforceThreshold requests shutdown when failures exceed the threshold.
// It reports true only for the call that made the request.
func (b *Batch) enforceThreshold() (bool, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxFails < 0 || b.failed <= b.maxFails || b.shutdown {
		return false, b.failed, b.maxFails
	}
	b.shutdown = true
	b.reason = ReasonFailThreshold
	return true, b.failed, b.maxFails
}
