// Package scheduler produces the controller's periodic tick. Ticking starts
// once a StartTrigger fires (push button on hardware, immediately otherwise).
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/kstaniek/go-canlink/internal/logging"
)

// DefaultPeriod is the controller tick period.
const DefaultPeriod = time.Second

var ErrInvalidPeriod = errors.New("scheduler: period must be > 0")

// StartTrigger blocks until ticking may begin.
type StartTrigger interface {
	Wait(ctx context.Context) error
}

// Immediate starts ticking right away.
type Immediate struct{}

func (Immediate) Wait(ctx context.Context) error { return ctx.Err() }

// TriggerFunc adapts a function to StartTrigger.
type TriggerFunc func(ctx context.Context) error

func (f TriggerFunc) Wait(ctx context.Context) error { return f(ctx) }

// Scheduler calls tick once per Period after Trigger fired.
type Scheduler struct {
	Period  time.Duration
	Trigger StartTrigger
}

// test hook
var newTicker = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run blocks until ctx is done. Ticks missed while tick is still running are
// coalesced by the underlying ticker, never queued.
func (s Scheduler) Run(ctx context.Context, tick func()) error {
	if s.Period <= 0 {
		return ErrInvalidPeriod
	}
	trig := s.Trigger
	if trig == nil {
		trig = Immediate{}
	}
	if err := trig.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logging.L().Info("scheduler_started", "period", s.Period)
	c, stop := newTicker(s.Period)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c:
			tick()
		}
	}
}
