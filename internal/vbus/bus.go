// Package vbus is an in-process CAN bus. Delivery is unordered across
// senders, at-most-once and lossy: a slow endpoint loses frames instead of
// stalling the sender, as a node that misses frames on a real bus would.
package vbus

import (
	"errors"
	"sync"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// DefaultBuffer is the per-endpoint receive buffer when Bus.OutBufSize is unset.
const DefaultBuffer = 64

var ErrClosed = errors.New("vbus: endpoint closed")

// Endpoint is one attachment point (a node, the bridge, a test tap).
type Endpoint struct {
	bus       *Bus
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// SendFrame puts fr on the bus; every other endpoint may receive it.
func (e *Endpoint) SendFrame(fr can.Frame) error {
	select {
	case <-e.Closed:
		return ErrClosed
	default:
	}
	e.bus.deliver(e, fr)
	return nil
}

// Close detaches the endpoint (idempotent).
func (e *Endpoint) Close() { e.bus.Detach(e) }

func (e *Endpoint) signalClosed() {
	e.closeOnce.Do(func() {
		close(e.Closed)
	})
}

type Bus struct {
	mu         sync.RWMutex
	endpoints  map[*Endpoint]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
	// Loss, when set, decides per delivery whether a frame is lost in transit.
	Loss func(can.Frame) bool
}

// New creates a Bus with default settings.
func New() *Bus { return &Bus{endpoints: make(map[*Endpoint]struct{})} }

// Attach registers a new endpoint.
func (b *Bus) Attach() *Endpoint {
	size := b.OutBufSize
	if size <= 0 {
		size = DefaultBuffer
	}
	e := &Endpoint{bus: b, Out: make(chan can.Frame, size), Closed: make(chan struct{})}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	n := len(b.endpoints)
	b.mu.Unlock()
	logging.L().Debug("vbus_attach", "endpoints", n)
	return e
}

// Detach unregisters an endpoint; safe to call multiple times.
func (b *Bus) Detach(e *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, e)
	b.mu.Unlock()
	e.signalClosed()
}

// Broadcast delivers fr to every endpoint (frames injected from outside the
// bus, e.g. by the bridge).
func (b *Bus) Broadcast(fr can.Frame) { b.deliver(nil, fr) }

func (b *Bus) deliver(from *Endpoint, fr can.Frame) {
	for _, e := range b.Snapshot() {
		if e == from {
			continue
		}
		if b.Loss != nil && b.Loss(fr) {
			metrics.IncBusDropped()
			continue
		}
		select {
		case <-e.Closed:
			continue
		default:
		}
		select {
		case e.Out <- fr:
		default:
			metrics.IncBusDropped()
			if b.Policy == PolicyKick {
				b.Detach(e)
			}
		}
	}
}

// Snapshot returns a slice copy of current endpoints (read-only use).
func (b *Bus) Snapshot() []*Endpoint {
	b.mu.RLock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		eps = append(eps, e)
	}
	b.mu.RUnlock()
	return eps
}

// Count returns the number of attached endpoints.
func (b *Bus) Count() int { b.mu.RLock(); n := len(b.endpoints); b.mu.RUnlock(); return n }
