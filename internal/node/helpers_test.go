package node

import (
	"errors"
	"sync"

	"github.com/kstaniek/go-canlink/internal/can"
)

var errBusOff = errors.New("bus off")

// captureSink records transmitted frames; failAfter >= 0 makes every send
// after that many successes fail.
type captureSink struct {
	mu        sync.Mutex
	frames    []can.Frame
	failAfter int
}

func newCapture() *captureSink { return &captureSink{failAfter: -1} }

func (c *captureSink) SendFrame(fr can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.frames) >= c.failAfter {
		return errBusOff
	}
	c.frames = append(c.frames, fr)
	return nil
}

func (c *captureSink) sent() []can.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]can.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *captureSink) reset() { c.mu.Lock(); c.frames = nil; c.mu.Unlock() }
