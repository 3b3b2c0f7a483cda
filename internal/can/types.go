package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is a classic CAN frame holder shared by backends, the bridge and the
// protocol codec. CANID carries EFF/RTR/ERR flags in its upper bits like
// SocketCAN. Len is the DLC (0..8); for remote frames it is the number of
// solicited bytes and Data is not meaningful.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxLen]byte
}

// ID returns the identifier with flag bits stripped.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) Remote() bool   { return f.CANID&CAN_RTR_FLAG != 0 }
func (f Frame) Error() bool    { return f.CANID&CAN_ERR_FLAG != 0 }

// Payload returns the valid data bytes (nil for remote frames).
func (f *Frame) Payload() []byte {
	if f.Remote() {
		return nil
	}
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// Std builds a standard (11-bit) data frame.
func Std(id uint32, data ...byte) Frame {
	var f Frame
	f.CANID = id & CAN_SFF_MASK
	if len(data) > MaxLen {
		data = data[:MaxLen]
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

// StdRemote builds a standard (11-bit) remote frame soliciting n bytes.
func StdRemote(id uint32, n uint8) Frame {
	return Frame{CANID: (id & CAN_SFF_MASK) | CAN_RTR_FLAG, Len: n}
}
