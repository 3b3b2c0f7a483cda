package board

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Indicator is a single activity LED toggled on each LED command transmission.
type Indicator interface {
	Toggle() error
}

// NopIndicator is used when no activity pin is configured.
type NopIndicator struct{}

func (NopIndicator) Toggle() error { return nil }

// CountingIndicator records toggles (tests, simulations).
type CountingIndicator struct{ n atomic.Int64 }

func (c *CountingIndicator) Toggle() error { c.n.Add(1); return nil }

// Count returns how many times Toggle was called.
func (c *CountingIndicator) Count() int64 { return c.n.Load() }

// GPIOIndicator toggles one output pin.
type GPIOIndicator struct {
	mu    sync.Mutex
	pin   gpio.PinOut
	level gpio.Level
}

func NewGPIOIndicator(p gpio.PinOut) *GPIOIndicator { return &GPIOIndicator{pin: p, level: gpio.Low} }

// OpenGPIOIndicator resolves the activity pin by name.
func OpenGPIOIndicator(name string) (*GPIOIndicator, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	ind := NewGPIOIndicator(p)
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("board: %s low: %w", name, err)
	}
	return ind, nil
}

func (g *GPIOIndicator) Toggle() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := !g.level
	if err := g.pin.Out(next); err != nil {
		return fmt.Errorf("board: toggle %s: %w", g.pin.Name(), err)
	}
	g.level = next
	return nil
}

// ButtonTrigger blocks until a falling edge on a pulled-up input pin, which is
// how the push button on the reference boards is wired.
type ButtonTrigger struct {
	Pin  gpio.PinIn
	Poll time.Duration // WaitForEdge timeout between context checks
}

// OpenButtonTrigger resolves the start button by name.
func OpenButtonTrigger(name string) (*ButtonTrigger, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return &ButtonTrigger{Pin: p}, nil
}

// Wait arms the pin and returns once the button is pressed or ctx ends.
func (b *ButtonTrigger) Wait(ctx context.Context) error {
	if err := b.Pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("board: arm %s: %w", b.Pin.Name(), err)
	}
	poll := b.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.Pin.WaitForEdge(poll) {
			return nil
		}
	}
}

var (
	_ Indicator = NopIndicator{}
	_ Indicator = (*CountingIndicator)(nil)
	_ Indicator = (*GPIOIndicator)(nil)
)
