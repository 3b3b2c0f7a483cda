// Package node holds the protocol logic of the two roles (controller and
// responder) and the fault state machine that wraps them. A Node handles one
// event per dispatch step; a Runner feeds it from a single goroutine.
package node

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canlink/internal/diag"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/protocol"
)

// Handler is the role-specific logic.
type Handler interface {
	OnTick() error
	OnFrameReceived(protocol.Frame) error
}

// State of a node.
type State uint8

const (
	StateRunning State = iota
	StateFaulted
)

func (s State) String() string {
	if s == StateFaulted {
		return "faulted"
	}
	return "running"
}

// Node wraps a Handler with frame decoding, fault reporting and the terminal
// fault state.
type Node struct {
	mu     sync.Mutex
	name   string
	h      Handler
	sink   diag.Sink
	logger *slog.Logger
	state  State
	fault  error
}

// Option customizes a Node.
type Option func(*Node)

func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithName labels the node in metrics (controller, responder).
func WithName(name string) Option {
	return func(n *Node) {
		if name != "" {
			n.name = name
		}
	}
}

func New(h Handler, sink diag.Sink, opts ...Option) *Node {
	n := &Node{name: "node", h: h, sink: sink, logger: logging.L()}
	if n.sink == nil {
		n.sink = diag.Discard{}
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Handler returns the wrapped role logic.
func (n *Node) Handler() Handler { return n.h }

func (n *Node) Name() string { return n.name }

func (n *Node) State() State { n.mu.Lock(); defer n.mu.Unlock(); return n.state }

// Fault returns the terminal fault, or nil while running.
func (n *Node) Fault() error { n.mu.Lock(); defer n.mu.Unlock(); return n.fault }

// Dispatch runs one event to completion. A faulted node rejects every event
// with ErrFaulted. Frames with identifiers the protocol does not own are
// ignored without error.
func (n *Node) Dispatch(ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateFaulted {
		return ErrFaulted
	}
	var err error
	switch ev.Kind {
	case TickElapsed:
		err = n.h.OnTick()
	case FrameArrived:
		f, derr := protocol.Decode(ev.Frame)
		switch {
		case errors.Is(derr, protocol.ErrUnknownIdentifier):
			metrics.IncIgnored()
			return nil
		case derr != nil:
			err = decodeFault(derr)
		default:
			err = n.h.OnFrameReceived(f)
		}
	case TransportFault:
		err = transportFault(ev.Err)
	default:
		return nil
	}
	if err != nil {
		n.report(err)
	}
	return err
}

// report must be called with n.mu held.
func (n *Node) report(err error) {
	kind := KindOf(err)
	if kind == 0 {
		kind = FaultOutput
	}
	metrics.IncFault(kind.String())
	diag.Printf(n.sink, "Fault: %v", err)
	if !kind.Terminal() {
		n.logger.Debug("dispatch_fault", "kind", kind.String(), "error", err)
		return
	}
	n.state = StateFaulted
	n.fault = err
	metrics.SetFaulted(n.name, true)
	n.logger.Error("node_faulted", "error", err)
}

// Reset clears the terminal fault so the node participates again. Role state
// (LED selector, tick counter, active LED) is preserved.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateFaulted {
		return
	}
	n.logger.Info("node_reset", "previous_fault", n.fault)
	n.state = StateRunning
	n.fault = nil
	metrics.SetFaulted(n.name, false)
}
