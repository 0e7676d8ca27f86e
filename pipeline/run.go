package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JessicaTegner/tagship/gate"
	"github.com/JessicaTegner/tagship/matrix"
	"github.com/JessicaTegner/tagship/trigger"
)

// Run is the handle for one pipeline execution. The concurrency controller
// keeps at most one live Run per reference; a superseded Run is canceled and
// its handle reports CodeSuperseded.
type Run struct {
	// ID uniquely identifies this run.
	ID string

	// Event is the trigger event that started the run.
	Event trigger.Event

	state      atomic.Int32
	superseded atomic.Bool
	cancel     context.CancelFunc

	done chan struct{}

	mu       sync.Mutex
	err      error
	report   *matrix.Report
	decision *gate.Decision
}

func newRun(event trigger.Event, cancel context.CancelFunc) *Run {
	r := &Run{
		ID:     uuid.NewString(),
		Event:  event,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.state.Store(int32(StatePending))
	return r
}

// State returns the run's current state.
func (r *Run) State() State {
	return State(r.state.Load())
}

func (r *Run) setState(s State) {
	r.state.Store(int32(s))
}

// Superseded reports whether a newer event for the same reference canceled
// this run.
func (r *Run) Superseded() bool {
	return r.superseded.Load()
}

// supersede cancels the run because a newer event arrived.
func (r *Run) supersede() {
	r.superseded.Store(true)
	r.cancel()
}

// Wait blocks until the run reaches a terminal state or ctx is canceled,
// then returns the run's error (nil on success).
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's terminal error. It is nil before the run finishes
// and nil on success.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Report returns the Test stage's matrix report, once available.
func (r *Run) Report() *matrix.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Decision returns the ancestry gate's decision, once available. It is nil
// for runs the gate never activated for.
func (r *Run) Decision() *gate.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decision
}

// finish records the terminal state and releases waiters.
func (r *Run) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	if err != nil {
		r.setState(StateAborted)
	} else {
		r.setState(StateDone)
	}
	close(r.done)
}
