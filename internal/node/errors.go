package node

import (
	"errors"
	"fmt"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrTransportFault = errors.New("transport fault")
	ErrDecodeFault    = errors.New("decode fault")
	ErrInvariantFault = errors.New("invariant fault")
	ErrOutputFault    = errors.New("output fault")
	ErrFaulted        = errors.New("node faulted")
)

// FaultKind classifies a Fault.
type FaultKind uint8

const (
	// FaultTransport: a send failed or the bus signaled an error. Terminal.
	FaultTransport FaultKind = iota + 1
	// FaultDecode: a recognized identifier carried a malformed payload.
	FaultDecode
	// FaultInvariant: a received LED selector was outside 1..=4.
	FaultInvariant
	// FaultOutput: the output lines rejected a valid selection.
	FaultOutput
)

func (k FaultKind) String() string {
	switch k {
	case FaultTransport:
		return "transport"
	case FaultDecode:
		return "decode"
	case FaultInvariant:
		return "invariant"
	case FaultOutput:
		return "output"
	default:
		return "unknown"
	}
}

func (k FaultKind) sentinel() error {
	switch k {
	case FaultTransport:
		return ErrTransportFault
	case FaultDecode:
		return ErrDecodeFault
	case FaultInvariant:
		return ErrInvariantFault
	case FaultOutput:
		return ErrOutputFault
	default:
		return nil
	}
}

// Terminal reports whether the fault stops the node.
func (k FaultKind) Terminal() bool { return k == FaultTransport }

// Fault is the error type returned from dispatch steps.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string { return fmt.Sprintf("%s fault: %v", f.Kind, f.Err) }

func (f *Fault) Unwrap() error { return f.Err }

// Is matches the kind sentinel, so errors.Is(err, ErrDecodeFault) works.
func (f *Fault) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && target == s
}

func transportFault(err error) error { return &Fault{Kind: FaultTransport, Err: err} }
func decodeFault(err error) error    { return &Fault{Kind: FaultDecode, Err: err} }
func invariantFault(err error) error { return &Fault{Kind: FaultInvariant, Err: err} }
func outputFault(err error) error    { return &Fault{Kind: FaultOutput, Err: err} }

// KindOf extracts the fault kind from err (0 when err is not a Fault).
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
