package transport

import (
	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// FrameSink is a generic CAN frame transmission target. Implementations must
// not block: a full transmit path is reported as an error.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(can.Frame) error

func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }

// Tee forwards every successfully submitted frame to observe after handing it
// to the primary sink. The bridge uses it to mirror a node's own transmissions.
func Tee(primary FrameSink, observe func(can.Frame)) FrameSink {
	return SinkFunc(func(fr can.Frame) error {
		if err := primary.SendFrame(fr); err != nil {
			return err
		}
		if observe != nil {
			observe(fr)
		}
		return nil
	})
}

// FrameTx is an AsyncTx specialised for CAN frames; backends embed it.
type FrameTx = AsyncTx[can.Frame]

// WriterCallbacks lets the owner of a backend writer learn about device
// writes that happen after SendFrame already returned.
type WriterCallbacks struct {
	// OnWriteError is called from the writer goroutine when the device
	// rejected a frame. Nodes treat this as a transport fault.
	OnWriteError func(error)
	// OnComplete is called after a frame left the device.
	OnComplete func(can.Frame)
}

func (c WriterCallbacks) writeError(err error) {
	if c.OnWriteError != nil {
		c.OnWriteError(err)
	}
}

func (c WriterCallbacks) complete(fr can.Frame) {
	if c.OnComplete != nil {
		c.OnComplete(fr)
	}
}

// FrameHooks builds the Hooks shared by backend writers: metric and log on
// error, count on success, overflow sentinel on drop. The callbacks run after
// the backend's own bookkeeping.
func FrameHooks(backend, errLabel, overLabel string, overflow error, cb WriterCallbacks) Hooks[can.Frame] {
	return Hooks[can.Frame]{
		OnError: func(err error) {
			metrics.IncError(errLabel)
			logging.L().Error(backend+"_write_error", "error", err)
			cb.writeError(err)
		},
		OnAfter: func(fr can.Frame) {
			metrics.IncTx(backend)
			logging.L().Debug("frame_transmitted", "backend", backend, "id", fr.ID(), "remote", fr.Remote(), "len", fr.Len)
			cb.complete(fr)
		},
		OnDrop: func() error {
			metrics.IncError(overLabel)
			return overflow
		},
	}
}

// Compile-time assertion that SinkFunc satisfies FrameSink.
var _ FrameSink = SinkFunc(nil)
