package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/transport"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

// virtualSink sends straight onto a bus endpoint. Delivery is synchronous, so
// completion is reported inline.
type virtualSink struct {
	ep *vbus.Endpoint
	cb transport.WriterCallbacks
}

func (s virtualSink) SendFrame(fr can.Frame) error {
	if err := s.ep.SendFrame(fr); err != nil {
		metrics.IncError(metrics.ErrVirtualOver)
		return err
	}
	metrics.IncTx(metrics.BackendVirtual)
	if s.cb.OnComplete != nil {
		s.cb.OnComplete(fr)
	}
	return nil
}

// initVirtualBackend attaches one endpoint to bus and pumps its frames into rx.
func initVirtualBackend(ctx context.Context, bus *vbus.Bus, rx frameReceiver, cb transport.WriterCallbacks, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	ep := bus.Attach()
	l.Info("virtual_attach", "endpoints", bus.Count())
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ep.Closed:
				return
			case fr := <-ep.Out:
				metrics.IncRx(metrics.BackendVirtual)
				deliver(rx, fr)
			}
		}
	}()
	return virtualSink{ep: ep, cb: cb}, ep.Close, nil
}
