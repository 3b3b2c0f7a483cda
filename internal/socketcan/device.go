//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/can"
)

// Error classes delivered as error frames (<linux/can/error.h>).
const (
	errTxTimeout   = 0x00000001
	errCtrl        = 0x00000004
	errProt        = 0x00000008
	errBusOff      = 0x00000040
	errBusError    = 0x00000080
	defaultErrMask = errTxTimeout | errCtrl | errProt | errBusOff | errBusError
)

type Device struct {
	fd int
}

// Option configures the raw socket before bind.
type Option func(fd int) error

// WithFilter restricts reception to the given standard identifiers (data and
// remote frames alike). No ids means "receive everything".
func WithFilter(ids ...uint32) Option {
	return func(fd int) error {
		if len(ids) == 0 {
			return nil
		}
		filters := make([]unix.CanFilter, 0, len(ids))
		for _, id := range ids {
			filters = append(filters, unix.CanFilter{
				Id:   id & can.CAN_SFF_MASK,
				Mask: can.CAN_SFF_MASK | can.CAN_EFF_FLAG,
			})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			return fmt.Errorf("CAN_RAW_FILTER: %w", err)
		}
		return nil
	}
}

// WithErrorFrames subscribes to controller error frames (bus-off, protocol
// and controller problems, tx timeouts).
func WithErrorFrames() Option {
	return func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, defaultErrMask); err != nil {
			return fmt.Errorf("CAN_RAW_ERR_FILTER: %w", err)
		}
		return nil
	}
}

func Open(iface string, opts ...Option) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	for _, o := range opts {
		if err := o(fd); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	return unmarshalFrame(buf[:], fr)
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	marshalFrame(fr, buf[:])
	_, err := unix.Write(d.fd, buf[:])
	return err
}

// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// Fields are host byte order; little-endian on every target we ship.
func unmarshalFrame(buf []byte, fr *can.Frame) error {
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := buf[4]
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	*fr = can.Frame{CANID: id, Len: dlc}
	if !fr.Remote() {
		copy(fr.Data[:], buf[8:8+int(dlc)])
	}
	return nil
}

func marshalFrame(fr can.Frame, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	if !fr.Remote() {
		copy(buf[8:], fr.Data[:min(int(fr.Len), can.MaxLen)])
	}
}
