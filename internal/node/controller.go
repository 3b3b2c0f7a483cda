package node

import (
	"github.com/kstaniek/go-canlink/internal/board"
	"github.com/kstaniek/go-canlink/internal/diag"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/protocol"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// DefaultRequestEvery is the number of ticks between status requests.
const DefaultRequestEvery = 4

// DefaultSeed makes the first LED command carry selector 2.
const DefaultSeed = protocol.MinLED

// Controller is the commanding node: one LED command per tick and one status
// request every requestEvery ticks.
type Controller struct {
	tx           transport.FrameSink
	sink         diag.Sink
	indicator    board.Indicator
	requestEvery uint8

	ledSelector uint8
	tickCounter uint8
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithSeed sets the initial LED selector (1..=4; other values are ignored).
func WithSeed(sel uint8) ControllerOption {
	return func(c *Controller) {
		if protocol.ValidLED(sel) {
			c.ledSelector = sel
		}
	}
}

// WithRequestEvery sets the status request interval in ticks (>= 1).
func WithRequestEvery(n uint8) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.requestEvery = n
		}
	}
}

// WithIndicator sets the activity LED toggled per LED command.
func WithIndicator(ind board.Indicator) ControllerOption {
	return func(c *Controller) {
		if ind != nil {
			c.indicator = ind
		}
	}
}

func NewController(tx transport.FrameSink, sink diag.Sink, opts ...ControllerOption) *Controller {
	c := &Controller{
		tx:           tx,
		sink:         sink,
		indicator:    board.NopIndicator{},
		requestEvery: DefaultRequestEvery,
		ledSelector:  DefaultSeed,
	}
	if c.sink == nil {
		c.sink = diag.Discard{}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) LEDSelector() uint8 { return c.ledSelector }
func (c *Controller) TickCounter() uint8 { return c.tickCounter }

// OnTick submits the next LED command, then the status request when the
// counter is due. Both go out on the coinciding tick, LED command first. The
// selector only advances once its command was accepted by the transport.
func (c *Controller) OnTick() error {
	next := protocol.NextLED(c.ledSelector)
	if err := c.tx.SendFrame(protocol.Encode(protocol.LEDCommand(next))); err != nil {
		return transportFault(err)
	}
	c.ledSelector = next
	metrics.IncLEDSent()
	if err := c.indicator.Toggle(); err != nil {
		diag.Printf(c.sink, "Indicator error: %v", err)
	}

	if c.tickCounter+1 < c.requestEvery {
		c.tickCounter++
		return nil
	}
	if err := c.tx.SendFrame(protocol.Encode(protocol.StatusRequest())); err != nil {
		return transportFault(err)
	}
	metrics.IncRequestSent()
	c.tickCounter = 0
	return nil
}

// OnFrameReceived logs status replies; everything else is ignored.
func (c *Controller) OnFrameReceived(f protocol.Frame) error {
	if f.IsStatusReply() {
		return logStatusReply(c.sink, f)
	}
	metrics.IncIgnored()
	return nil
}

// logStatusReply is shared by both roles so either can be flashed into
// either position without touching the dispatch logic.
func logStatusReply(sink diag.Sink, f protocol.Frame) error {
	v, err := f.StatusValue()
	if err != nil {
		return decodeFault(err)
	}
	metrics.IncReplyRecv()
	diag.Printf(sink, "Reply Received: 0x%04X", v)
	return nil
}
