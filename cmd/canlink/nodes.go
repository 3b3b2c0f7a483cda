package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-canlink/internal/board"
	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/diag"
	"github.com/kstaniek/go-canlink/internal/node"
	"github.com/kstaniek/go-canlink/internal/protocol"
	"github.com/kstaniek/go-canlink/internal/scheduler"
	"github.com/kstaniek/go-canlink/internal/transport"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

// Hardware hooks, overridden in tests.
var (
	openLEDLines    = func(names []string) (board.Lines, error) { return board.OpenGPIOLines(names) }
	openIndicator   = func(name string) (board.Indicator, error) { return board.OpenGPIOIndicator(name) }
	openStartButton = func(name string) (scheduler.StartTrigger, error) { return board.OpenButtonTrigger(name) }
)

// lateSink forwards to a sink assigned once the backend is up. Nodes are
// built first because the backend RX loop delivers into their runner.
type lateSink struct{ tx transport.FrameSink }

func (s *lateSink) SendFrame(fr can.Frame) error { return s.tx.SendFrame(fr) }

// nodeUnit is one running role: its node, event runner and diagnostic queue.
type nodeUnit struct {
	name      string
	node      *node.Node
	runner    *node.Runner
	diag      *diag.Queue
	tx        *lateSink
	ticks     bool
	startTrig scheduler.StartTrigger
	logger    *slog.Logger
}

// input returns the receiver backends deliver into. When mon is set every
// received frame is mirrored there for bridge clients.
func (u *nodeUnit) input(mon *vbus.Bus) frameReceiver {
	if mon == nil {
		return u.runner
	}
	return mirrorReceiver{next: u.runner, mon: mon}
}

// writerCallbacks turns late device write failures into transport faults and
// emits a diagnostic line per transmitted frame.
func (u *nodeUnit) writerCallbacks() transport.WriterCallbacks {
	return transport.WriterCallbacks{
		OnWriteError: u.runner.BusFault,
		OnComplete: func(fr can.Frame) {
			diag.Printf(u.diag, "Message Transmitted: 0x%03X", fr.ID())
		},
	}
}

type mirrorReceiver struct {
	next frameReceiver
	mon  *vbus.Bus
}

func (m mirrorReceiver) FrameArrived(fr can.Frame) {
	m.next.FrameArrived(fr)
	m.mon.Broadcast(fr)
}

func (m mirrorReceiver) BusFault(err error) { m.next.BusFault(err) }

func buildUnit(ctx context.Context, cfg *appConfig, role string, l *slog.Logger) (*nodeUnit, error) {
	ul := l.With("node", role)
	u := &nodeUnit{
		name:   role,
		diag:   diag.NewQueue(ctx, ul, cfg.diagBuffer),
		tx:     &lateSink{},
		logger: ul,
	}
	var h node.Handler
	switch role {
	case roleController:
		opts := []node.ControllerOption{
			node.WithSeed(uint8(cfg.seed)),
			node.WithRequestEvery(uint8(cfg.requestEvery)),
		}
		if cfg.activityPin != "" {
			ind, err := openIndicator(cfg.activityPin)
			if err != nil {
				u.diag.Close()
				return nil, fmt.Errorf("activity pin %s: %w", cfg.activityPin, err)
			}
			opts = append(opts, node.WithIndicator(ind))
		}
		u.startTrig = scheduler.Immediate{}
		if cfg.startPin != "" {
			trig, err := openStartButton(cfg.startPin)
			if err != nil {
				u.diag.Close()
				return nil, fmt.Errorf("start pin %s: %w", cfg.startPin, err)
			}
			u.startTrig = trig
		}
		u.ticks = true
		h = node.NewController(u.tx, u.diag, opts...)
	case roleResponder:
		var lines board.Lines = &board.MemoryLines{}
		if len(cfg.ledPins) > 0 {
			gl, err := openLEDLines(cfg.ledPins)
			if err != nil {
				u.diag.Close()
				return nil, fmt.Errorf("led pins: %w", err)
			}
			lines = gl
		}
		h = node.NewResponder(u.tx, u.diag, lines, node.WithStatusSource(node.FixedStatus(cfg.statusReply)))
	default:
		u.diag.Close()
		return nil, fmt.Errorf("unknown role %q", role)
	}
	u.node = node.New(h, u.diag, node.WithLogger(ul), node.WithName(role))
	u.runner = node.NewRunner(u.node, node.DefaultEventBuffer)
	return u, nil
}

// run drives the unit until ctx ends. It returns a non-nil error only when
// the fault policy asks the process to exit.
func (u *nodeUnit) run(ctx context.Context, cfg *appConfig) error {
	if u.ticks {
		go func() {
			s := scheduler.Scheduler{Period: cfg.tick, Trigger: u.startTrig}
			if err := s.Run(ctx, u.runner.Tick); err != nil {
				u.logger.Error("scheduler_error", "error", err)
			}
		}()
	}
	return superviseRunner(ctx, u.runner, cfg.onFault, cfg.resetDelay, u.logger)
}

// superviseRunner applies the fault policy whenever the runner stops on a
// terminal fault.
func superviseRunner(ctx context.Context, r *node.Runner, policy string, delay time.Duration, l *slog.Logger) error {
	for {
		err := r.Run(ctx)
		if err == nil {
			return nil
		}
		switch policy {
		case onFaultExit:
			return err
		case onFaultReset:
			l.Warn("fault_reset_scheduled", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			r.Reset()
		default:
			l.Error("node_halted", "error", err)
			<-ctx.Done()
			return nil
		}
	}
}

// statusOf is a small helper for logging a role's externally visible state.
func statusOf(u *nodeUnit) []any {
	attrs := []any{"node", u.name, "state", u.node.State().String()}
	switch h := u.node.Handler().(type) {
	case *node.Controller:
		attrs = append(attrs, "led_selector", h.LEDSelector(), "tick_counter", h.TickCounter())
	case *node.Responder:
		attrs = append(attrs, "active_led", h.ActiveLED(), "valid", protocol.ValidLED(h.ActiveLED()))
	}
	return attrs
}
