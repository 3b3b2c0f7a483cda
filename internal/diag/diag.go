// Package diag is the node's diagnostic line sink. Dispatch steps only ever
// enqueue; a separate goroutine drains lines into the structured logger.
package diag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// Sink receives diagnostic lines. Emit is fire-and-forget.
type Sink interface {
	Emit(line string)
}

// ErrQueueFull is reported (and counted) when a line cannot be queued.
var ErrQueueFull = errors.New("diag: queue full")

// Queue is a bounded, non-blocking Sink.
type Queue struct {
	tx *transport.AsyncTx[string]
}

// NewQueue starts a drain goroutine writing queued lines to l at info level.
func NewQueue(ctx context.Context, l *slog.Logger, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	write := func(line string) error {
		l.Info("diag", "line", line)
		return nil
	}
	hooks := transport.Hooks[string]{
		OnDrop: func() error {
			metrics.IncDiagDropped()
			return ErrQueueFull
		},
	}
	return &Queue{tx: transport.NewAsyncTx(ctx, size, write, hooks)}
}

// Emit enqueues line; it never blocks and silently drops on overflow.
func (q *Queue) Emit(line string) { _ = q.tx.Send(line) }

// Close writes out queued lines and stops the drain goroutine.
func (q *Queue) Close() { q.tx.Drain() }

// Printf formats and emits a line.
func Printf(s Sink, format string, args ...any) {
	if s == nil {
		return
	}
	s.Emit(fmt.Sprintf(format, args...))
}

// Discard drops every line.
type Discard struct{}

func (Discard) Emit(string) {}

// Recorder keeps lines in memory (tests, simulations).
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Emit(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Reset forgets recorded lines.
func (r *Recorder) Reset() { r.mu.Lock(); r.lines = nil; r.mu.Unlock() }

var (
	_ Sink = (*Queue)(nil)
	_ Sink = (*Recorder)(nil)
	_ Sink = Discard{}
)
