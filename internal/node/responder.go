package node

import (
	"fmt"

	"github.com/kstaniek/go-canlink/internal/board"
	"github.com/kstaniek/go-canlink/internal/diag"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/protocol"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// StatusSource computes the status reply from responder state.
type StatusSource func(activeLED uint8) [protocol.StatusLen]byte

// FixedStatus always answers v.
func FixedStatus(v [protocol.StatusLen]byte) StatusSource {
	return func(uint8) [protocol.StatusLen]byte { return v }
}

// Responder applies LED commands to its output lines and answers status
// requests.
type Responder struct {
	tx     transport.FrameSink
	sink   diag.Sink
	lines  board.Lines
	status StatusSource

	activeLED uint8
}

// ResponderOption customizes a Responder.
type ResponderOption func(*Responder)

// WithStatusSource overrides the fixed 0xAB 0xCD reply.
func WithStatusSource(s StatusSource) ResponderOption {
	return func(r *Responder) {
		if s != nil {
			r.status = s
		}
	}
}

func NewResponder(tx transport.FrameSink, sink diag.Sink, lines board.Lines, opts ...ResponderOption) *Responder {
	r := &Responder{
		tx:     tx,
		sink:   sink,
		lines:  lines,
		status: FixedStatus(protocol.DefaultStatusReply),
	}
	if r.sink == nil {
		r.sink = diag.Discard{}
	}
	if r.lines == nil {
		r.lines = &board.MemoryLines{}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ActiveLED returns 0 until the first valid command was applied.
func (r *Responder) ActiveLED() uint8 { return r.activeLED }

// OnTick does nothing: the responder is purely reactive.
func (r *Responder) OnTick() error { return nil }

func (r *Responder) OnFrameReceived(f protocol.Frame) error {
	switch {
	case f.IsLEDCommand():
		return r.applyLED(f)
	case f.IsStatusRequest():
		v := r.status(r.activeLED)
		if err := r.tx.SendFrame(protocol.Encode(protocol.StatusReply(v))); err != nil {
			return transportFault(err)
		}
		metrics.IncReplySent()
		diag.Printf(r.sink, "Status Request Answered: 0x%02X%02X", v[0], v[1])
		return nil
	case f.IsStatusReply():
		return logStatusReply(r.sink, f)
	default:
		metrics.IncIgnored()
		return nil
	}
}

func (r *Responder) applyLED(f protocol.Frame) error {
	sel, err := f.LEDSelector()
	if err != nil {
		return decodeFault(err)
	}
	if !protocol.ValidLED(sel) {
		return invariantFault(fmt.Errorf("%w: %d", protocol.ErrLEDOutOfRange, sel))
	}
	if err := r.lines.Select(sel); err != nil {
		return outputFault(err)
	}
	r.activeLED = sel
	metrics.IncLEDApplied(sel)
	diag.Printf(r.sink, "Message Received: #%X", sel)
	return nil
}
