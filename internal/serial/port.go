package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// DefaultReadTimeout bounds a single Read so the RX loop can observe
// cancellation while the adapter is silent.
const DefaultReadTimeout = 50 * time.Millisecond

var ErrInvalidBaud = errors.New("serial: invalid baud rate")

// Port is the byte stream of a UART CAN adapter.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the adapter at 8N1. A zero readTimeout selects
// DefaultReadTimeout; the adapter never blocks a read indefinitely.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	if baud <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBaud, baud)
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", name, err)
	}
	return p, nil
}
