package node

import (
	"fmt"

	"github.com/kstaniek/go-canlink/internal/can"
)

// EventKind enumerates what a dispatch step can be triggered by.
type EventKind uint8

const (
	TickElapsed EventKind = iota + 1
	FrameArrived
	TransportFault
)

func (k EventKind) String() string {
	switch k {
	case TickElapsed:
		return "tick"
	case FrameArrived:
		return "frame"
	case TransportFault:
		return "transport_fault"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one unit of work for a node.
type Event struct {
	Kind  EventKind
	Frame can.Frame // FrameArrived
	Err   error     // TransportFault
}

func Tick() Event                { return Event{Kind: TickElapsed} }
func Arrived(fr can.Frame) Event { return Event{Kind: FrameArrived, Frame: fr} }
func BusFault(err error) Event   { return Event{Kind: TransportFault, Err: err} }
