//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-canlink/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

type Device struct{}

type Option func(fd int) error

func WithFilter(ids ...uint32) Option { return func(int) error { return nil } }
func WithErrorFrames() Option         { return func(int) error { return nil } }

func Open(iface string, opts ...Option) (*Device, error) { return nil, ErrUnsupported }

func (*Device) ReadFrame(*can.Frame) error { return ErrUnsupported }
func (*Device) WriteFrame(can.Frame) error { return ErrUnsupported }
func (*Device) Close() error               { return nil }
