package node

import (
	"context"
	"sync/atomic"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// DefaultEventBuffer is the inbound event queue size of a Runner.
const DefaultEventBuffer = 256

// Runner serializes ticks, arriving frames and bus faults into one goroutine
// so that each dispatch step has exclusive use of the node state.
//
// Once Run has stopped on a terminal fault the runner is halted: Post rejects
// every event until Reset, so nothing that happened during the fault is
// replayed afterwards.
type Runner struct {
	node   *Node
	events chan Event
	halted atomic.Bool
}

func NewRunner(n *Node, buf int) *Runner {
	if buf <= 0 {
		buf = DefaultEventBuffer
	}
	return &Runner{node: n, events: make(chan Event, buf)}
}

func (r *Runner) Node() *Node { return r.node }

// Post queues ev without blocking. It reports false when the queue is full
// or the runner is halted; the event is then lost, as a frame lost on the bus
// would be.
func (r *Runner) Post(ev Event) bool {
	if r.halted.Load() {
		return false
	}
	select {
	case r.events <- ev:
		return true
	default:
		metrics.IncError(metrics.ErrEventOverflow)
		return false
	}
}

// Tick is the scheduler entry point.
func (r *Runner) Tick() { r.Post(Tick()) }

// FrameArrived is the backend receive entry point.
func (r *Runner) FrameArrived(fr can.Frame) { r.Post(Arrived(fr)) }

// BusFault reports a bus error signaled by the backend.
func (r *Runner) BusFault(err error) { r.Post(BusFault(err)) }

// Run dispatches events until ctx ends (returns nil) or the node enters the
// terminal fault state (returns the fault). Non-terminal faults are reported
// by the node and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			_ = r.node.Dispatch(ev)
			if f := r.node.Fault(); f != nil {
				r.halted.Store(true)
				r.discard()
				return f
			}
		}
	}
}

// Reset discards queued events, clears the node fault and accepts events
// again. Call it before restarting Run.
func (r *Runner) Reset() {
	r.discard()
	r.node.Reset()
	r.halted.Store(false)
}

// Halted reports whether the runner is rejecting events after a fault.
func (r *Runner) Halted() bool { return r.halted.Load() }

func (r *Runner) discard() {
	for {
		select {
		case <-r.events:
		default:
			return
		}
	}
}

// Pending reports queued events (tests, metrics).
func (r *Runner) Pending() int { return len(r.events) }
