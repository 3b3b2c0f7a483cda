package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canlink/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"led_sent", snap.LEDSent,
					"led_applied", snap.LEDApplied,
					"requests_sent", snap.RequestsSent,
					"replies_sent", snap.RepliesSent,
					"replies_recv", snap.RepliesRecv,
					"ignored", snap.Ignored,
					"faults", snap.Faults,
					"faulted", snap.Faulted,
					"faulted_nodes", snap.FaultedNodes,
					"active_led", snap.ActiveLED,
					"bus_drops", snap.BusDropped,
					"diag_drops", snap.DiagDropped,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
