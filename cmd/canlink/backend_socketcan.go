package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/protocol"
	"github.com/kstaniek/go-canlink/internal/socketcan"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests). The
// kernel filter passes only the two protocol identifiers plus error frames.
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) {
	return socketcan.Open(iface,
		socketcan.WithFilter(protocol.LEDCommandID, protocol.StatusID),
		socketcan.WithErrorFrames(),
	)
}

// initSocketCANBackend sets up the SocketCAN backend, launching the RX loop.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, rx frameReceiver, cb transport.WriterCallbacks, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, cfg.txQueue, cb)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.IncRx(metrics.BackendSocketCAN)
			deliver(rx, fr)
			backoff = rxBackoffMin
		}
	}()
	return tw, func() { _ = dev.Close(); tw.Close() }, nil
}
