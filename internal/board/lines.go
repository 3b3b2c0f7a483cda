// Package board drives the node's physical I/O: the four mutually exclusive
// LED lines, the activity LED and the start button.
package board

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// NumLines is the number of selectable output lines.
const NumLines = 4

var (
	ErrInvalidLine = errors.New("board: invalid line")
	ErrPinNotFound = errors.New("board: gpio pin not found")
)

// Lines activates exactly one of four output lines. Line numbers are 1-based;
// Active returns 0 before the first Select.
type Lines interface {
	Select(n uint8) error
	Active() uint8
}

// MemoryLines keeps the selection in a single atomic word, so an observer
// never sees two lines active at once.
type MemoryLines struct {
	active atomic.Uint32
}

func (m *MemoryLines) Select(n uint8) error {
	if n < 1 || n > NumLines {
		return fmt.Errorf("%w: %d", ErrInvalidLine, n)
	}
	m.active.Store(uint32(n))
	return nil
}

func (m *MemoryLines) Active() uint8 { return uint8(m.active.Load()) }

// IsOn reports whether line n is driven.
func (m *MemoryLines) IsOn(n uint8) bool { return m.Active() == n }

// GPIOLines drives four GPIO outputs. Deselected lines are driven low before
// the selected one goes high so two lines are never high together.
type GPIOLines struct {
	mu     sync.Mutex
	pins   [NumLines]gpio.PinOut
	active uint8
}

// NewGPIOLines wraps already resolved pins (line 1 = pins[0]).
func NewGPIOLines(pins [NumLines]gpio.PinOut) *GPIOLines {
	return &GPIOLines{pins: pins}
}

// OpenGPIOLines initializes the periph host and resolves pins by name.
func OpenGPIOLines(names []string) (*GPIOLines, error) {
	if len(names) != NumLines {
		return nil, fmt.Errorf("board: need %d led pins, got %d", NumLines, len(names))
	}
	if err := initHost(); err != nil {
		return nil, err
	}
	var pins [NumLines]gpio.PinOut
	for i, name := range names {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
		}
		pins[i] = p
	}
	l := NewGPIOLines(pins)
	if err := l.allLow(); err != nil {
		return nil, err
	}
	return l, nil
}

func (g *GPIOLines) allLow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pins {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("board: %s low: %w", p.Name(), err)
		}
	}
	return nil
}

// Select drives line n. When a pin write fails the previous selection is
// restored; if that fails too every pin that can be driven goes low and
// Active reports 0.
func (g *GPIOLines) Select(n uint8) error {
	if n < 1 || n > NumLines {
		return fmt.Errorf("%w: %d", ErrInvalidLine, n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.drive(n); err != nil {
		prev := g.active
		g.active = 0
		if prev != 0 && g.drive(prev) == nil {
			g.active = prev
			return err
		}
		for _, p := range g.pins {
			_ = p.Out(gpio.Low)
		}
		return err
	}
	g.active = n
	return nil
}

// drive must be called with g.mu held.
func (g *GPIOLines) drive(n uint8) error {
	for i, p := range g.pins {
		if uint8(i+1) == n {
			continue
		}
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("board: %s low: %w", p.Name(), err)
		}
	}
	if err := g.pins[n-1].Out(gpio.High); err != nil {
		return fmt.Errorf("board: %s high: %w", g.pins[n-1].Name(), err)
	}
	return nil
}

func (g *GPIOLines) Active() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads periph drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("failed to initialize periph host: %w", err)
		}
	})
	return hostErr
}

var (
	_ Lines = (*MemoryLines)(nil)
	_ Lines = (*GPIOLines)(nil)
)
