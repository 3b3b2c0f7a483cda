// Package protocol defines the wire meaning of the CAN identifiers used by the
// LED/status link. It only encodes and decodes; node behavior lives in
// internal/node.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-canlink/internal/can"
)

// Identifiers in use on the bus (standard 11-bit).
const (
	LEDCommandID uint32 = 0x65D
	StatusID     uint32 = 0x651
)

// Protocol constants.
const (
	LEDCommandLen = 1
	StatusLen     = 2
	MinLED        = 1
	MaxLED        = 4
)

// DefaultStatusReply is the fixed reply content of this protocol instance.
var DefaultStatusReply = [StatusLen]byte{0xAB, 0xCD}

var (
	ErrUnknownIdentifier = errors.New("protocol: unknown identifier")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrShortPayload      = errors.New("protocol: short payload")
	ErrLEDOutOfRange     = errors.New("protocol: led selector out of range")
)

// Kind discriminates data frames from remote requests.
type Kind uint8

const (
	Data Kind = iota
	RemoteRequest
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case RemoteRequest:
		return "remote"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is a decoded protocol frame. It is a comparable value in canonical
// form: payload bytes past Length are zero, and for remote requests the whole
// Payload is zero and only Length is meaningful. Decode and the constructors
// always produce canonical frames; Encode ignores non-canonical bytes.
type Frame struct {
	ID      uint32
	Kind    Kind
	Length  uint8
	Payload [can.MaxLen]byte
}

// Bytes returns the valid payload bytes of a data frame.
func (f *Frame) Bytes() []byte {
	if f.Kind == RemoteRequest {
		return nil
	}
	n := f.Length
	if n > can.MaxLen {
		n = can.MaxLen
	}
	return f.Payload[:n]
}

// Canonical returns f with the bytes Encode would not transmit cleared.
func (f Frame) Canonical() Frame {
	c := Frame{ID: f.ID, Kind: f.Kind, Length: f.Length}
	copy(c.Payload[:], f.Bytes())
	return c
}

// Known reports whether id is one of the identifiers this protocol owns.
func Known(id uint32) bool { return id == LEDCommandID || id == StatusID }

// Decode maps a raw frame to its protocol meaning. Extended and error frames
// never belong to the protocol and are reported as ErrUnknownIdentifier,
// which callers treat as "ignore".
func Decode(raw can.Frame) (Frame, error) {
	if raw.Error() || raw.Extended() || !Known(raw.ID()) {
		return Frame{}, fmt.Errorf("%w: 0x%X", ErrUnknownIdentifier, raw.CANID)
	}
	if raw.Len > can.MaxLen {
		return Frame{}, fmt.Errorf("%w (%d)", ErrInvalidLength, raw.Len)
	}
	f := Frame{ID: raw.ID(), Length: raw.Len}
	if raw.Remote() {
		f.Kind = RemoteRequest
		return f, nil
	}
	f.Kind = Data
	copy(f.Payload[:raw.Len], raw.Data[:raw.Len])
	return f, nil
}

// Encode maps a protocol frame to its raw form. Callers keep Length <= 8.
func Encode(f Frame) can.Frame {
	if f.Kind == RemoteRequest {
		return can.StdRemote(f.ID, f.Length)
	}
	raw := can.Frame{CANID: f.ID & can.CAN_SFF_MASK, Len: f.Length}
	copy(raw.Data[:], f.Bytes())
	return raw
}

// LEDCommand builds the controller's LED selection command.
func LEDCommand(sel uint8) Frame {
	f := Frame{ID: LEDCommandID, Kind: Data, Length: LEDCommandLen}
	f.Payload[0] = sel
	return f
}

// StatusRequest builds the remote frame soliciting the 2-byte status.
func StatusRequest() Frame {
	return Frame{ID: StatusID, Kind: RemoteRequest, Length: StatusLen}
}

// StatusReply builds the data frame answering a status request.
func StatusReply(v [StatusLen]byte) Frame {
	f := Frame{ID: StatusID, Kind: Data, Length: StatusLen}
	copy(f.Payload[:], v[:])
	return f
}

// IsLEDCommand reports whether f is an LED command data frame.
func (f Frame) IsLEDCommand() bool { return f.ID == LEDCommandID && f.Kind == Data }

// IsStatusRequest reports whether f is a status remote request.
func (f Frame) IsStatusRequest() bool { return f.ID == StatusID && f.Kind == RemoteRequest }

// IsStatusReply reports whether f is a status data frame.
func (f Frame) IsStatusReply() bool { return f.ID == StatusID && f.Kind == Data }

// LEDSelector returns the first payload byte of an LED command. It does not
// range-check; see ValidLED.
func (f Frame) LEDSelector() (uint8, error) {
	if f.Length < LEDCommandLen {
		return 0, fmt.Errorf("%w: led command len %d", ErrShortPayload, f.Length)
	}
	return f.Payload[0], nil
}

// StatusValue interprets payload[0..2] as a big-endian value.
func (f Frame) StatusValue() (uint16, error) {
	if f.Length < StatusLen {
		return 0, fmt.Errorf("%w: status reply len %d", ErrShortPayload, f.Length)
	}
	return binary.BigEndian.Uint16(f.Payload[:StatusLen]), nil
}

// ValidLED reports whether sel names one of the four output lines.
func ValidLED(sel uint8) bool { return sel >= MinLED && sel <= MaxLED }

// NextLED advances a selector by one, wrapping 4 -> 1 and never yielding 0.
func NextLED(sel uint8) uint8 {
	if sel >= MaxLED || sel < MinLED {
		return MinLED
	}
	return sel + 1
}

func (f Frame) String() string {
	if f.Kind == RemoteRequest {
		return fmt.Sprintf("0x%03X remote len=%d", f.ID, f.Length)
	}
	return fmt.Sprintf("0x%03X data len=%d % X", f.ID, f.Length, f.Payload[:min(int(f.Length), can.MaxLen)])
}
