package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/transport"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

// ErrBusError wraps controller error frames reported by a backend.
var ErrBusError = errors.New("can bus error")

// frameReceiver is where backend RX loops deliver. *node.Runner implements it.
type frameReceiver interface {
	FrameArrived(can.Frame)
	BusFault(error)
}

// deliver routes error frames to BusFault and everything else to FrameArrived.
func deliver(rx frameReceiver, fr can.Frame) {
	if fr.Error() {
		rx.BusFault(fmt.Errorf("%w: class 0x%X", ErrBusError, fr.ID()))
		return
	}
	rx.FrameArrived(fr)
}

// initBackend selects the backend, starts its RX loop and returns the frame
// sink for the node and a cleanup. bus is only used by the virtual backend.
func initBackend(ctx context.Context, cfg *appConfig, bus *vbus.Bus, rx frameReceiver, cb transport.WriterCallbacks, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	switch cfg.backend {
	case backendSerial:
		return initSerialBackend(ctx, cfg, rx, cb, l, wg)
	case backendSocketCAN:
		return initSocketCANBackend(ctx, cfg, rx, cb, l, wg)
	case backendVirtual:
		return initVirtualBackend(ctx, bus, rx, cb, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan|virtual)", cfg.backend)
	}
}

// nextBackoff doubles d up to rxBackoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
