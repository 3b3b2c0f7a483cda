package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

// maxDecodeBatch bounds frames decoded between context checks.
const maxDecodeBatch = 16

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, ep *vbus.Endpoint, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.Codec.DecodeN(conn, maxDecodeBatch, func(fr can.Frame) { s.inject(ep, fr, logger) })
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				s.setError(fmt.Errorf("%w: %v", ErrConnRead, err))
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// inject hands a client frame to Send, or to the bus when Send is unset.
func (s *Server) inject(ep *vbus.Endpoint, fr can.Frame, logger *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(&fr) {
		return
	}
	var err error
	if s.Send != nil {
		err = s.Send(fr)
	} else {
		err = ep.SendFrame(fr)
	}
	if err != nil {
		s.totalSendErrors.Add(1)
		logger.Debug("bridge_inject_error", "error", err, "can_id", fmt.Sprintf("0x%X", fr.CANID))
	}
}

// startWriter pushes bus frames to one client connection in batches.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, ep *vbus.Endpoint, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.removeClient(ep)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			_, err := s.Codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				s.setError(wrap)
				return wrap
			}
			return nil
		}
		for {
			select {
			case fr := <-ep.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-ep.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
