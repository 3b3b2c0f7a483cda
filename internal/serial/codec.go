package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// UART adapter framing, both directions:
//
//	2D D4 LEN INS FLAGS ID(4, big-endian) PAYLOAD(0..8) CHK
//
// LEN counts INS..PAYLOAD plus the checksum byte. CHK = 0x2D + LEN + sum of
// the bytes between LEN and CHK (mod 256).
//
// INS selects the identifier format (1 = standard, 2 = extended). The adapter
// uses INS 3 to report a bus error; such records carry the error class in the
// ID field and are surfaced as CAN error frames.
//
// FLAGS: bit 7 always set (classic CAN), bit 6 = remote request, bits 0..3 =
// DLC. Remote requests carry no payload bytes on the wire.
const (
	pre0 = 0x2D
	pre1 = 0xD4

	insStd      = 1
	insExt      = 2
	insBusError = 3

	flagClassic = 0x80
	flagRemote  = 0x40
	dlcMask     = 0x0F

	headerLen = 2 + 4 // INS + FLAGS + ID
	minLn     = headerLen + 0 + 1
	maxLn     = headerLen + can.MaxLen + 1
)

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// envelope wraps body in preamble, length and checksum.
func envelope(body []byte) []byte {
	n := len(body)
	out := make([]byte, n+4)
	out[0] = pre0
	out[1] = pre1
	out[2] = byte(n + 1)
	sum := out[2] + pre0
	for i, b := range body {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

func (Codec) Encode(f can.Frame) []byte {
	ins := byte(insStd)
	id := f.ID()
	if f.Extended() {
		ins = insExt
	}
	dlc := f.Len
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	flags := byte(flagClassic) | dlc
	n := int(dlc)
	if f.Remote() {
		flags |= flagRemote
		n = 0
	}
	body := make([]byte, headerLen+n)
	body[0] = ins
	body[1] = flags
	binary.BigEndian.PutUint32(body[2:6], id)
	copy(body[6:], f.Data[:n])
	return envelope(body)
}

// DecodeStream consumes complete records from in and emits frames via out.
// Incomplete trailing bytes stay buffered for the next call. Garbage and
// records with a bad length or checksum are skipped byte-wise (counted as
// malformed) until the stream realigns on a preamble.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	header := []byte{pre0, pre1}
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 {
			return nil
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case the next read starts with the second preamble byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return nil
		}
		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		f, ok := parseBody(data[3 : req-1])
		if !ok {
			metrics.IncMalformed()
			in.Next(req)
			continue
		}
		out(f)
		metrics.IncRx(metrics.BackendSerial)
		in.Next(req)
	}
}

func parseBody(body []byte) (can.Frame, bool) {
	var f can.Frame
	ins, flags := body[0], body[1]
	id := binary.BigEndian.Uint32(body[2:6])
	payload := body[headerLen:]
	switch ins {
	case insStd:
		if id > can.CAN_SFF_MASK {
			return f, false
		}
		f.CANID = id
	case insExt:
		f.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	case insBusError:
		f.CANID = (id & can.CAN_EFF_MASK) | can.CAN_ERR_FLAG
		f.Len = uint8(copy(f.Data[:], payload))
		return f, true
	default:
		return f, false
	}
	if flags&flagClassic == 0 {
		return f, false
	}
	dlc := flags & dlcMask
	if dlc > can.MaxLen {
		return f, false
	}
	f.Len = dlc
	if flags&flagRemote != 0 {
		f.CANID |= can.CAN_RTR_FLAG
		return f, len(payload) == 0
	}
	if len(payload) != int(dlc) {
		return f, false
	}
	copy(f.Data[:], payload)
	return f, true
}
