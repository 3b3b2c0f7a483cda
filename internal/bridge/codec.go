package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// Codec encodes/decodes cannelloni TCP frames. Stateless and safe for
// concurrent use.
//
// Each frame is a 4-byte big-endian can_id (SocketCAN flag bits included),
// one length byte (DLC, high bit reserved) and, for data frames only, DLC
// payload bytes. Remote requests carry their DLC but no payload.
type Codec struct{}

// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
var ErrInvalidLength = errors.New("cannelloni: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("cannelloni: truncated frame")

const frameOverhead = 4 + 1

// Encode packs frames into a single buffer.
func (c Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (frameOverhead + can.MaxLen))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes written.
func (c Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var rec [frameOverhead + can.MaxLen]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(rec[0:4], f.CANID)
		dlc := min(f.Len, can.MaxLen)
		rec[4] = dlc
		n := frameOverhead
		if !f.Remote() {
			n += copy(rec[frameOverhead:], f.Data[:dlc])
		}
		m, err := w.Write(rec[:n])
		total += m
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF if called at a
// clean frame boundary and no more data is available.
func (c Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [frameOverhead]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode header: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[0:4])
	ln := hdr[4] & 0x7F
	if ln > can.MaxLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = ln
	if f.Remote() || ln == 0 {
		return f, nil
	}
	if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return f, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until error (if max<=0)
// invoking onFrame for each. It returns the number of frames decoded and the
// terminal error (which can be io.EOF).
func (c Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
