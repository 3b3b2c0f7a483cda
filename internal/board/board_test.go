package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func testPins() ([NumLines]*gpiotest.Pin, [NumLines]gpio.PinOut) {
	var raw [NumLines]*gpiotest.Pin
	var out [NumLines]gpio.PinOut
	for i := range raw {
		raw[i] = &gpiotest.Pin{N: "LED" + string(rune('1'+i)), L: gpio.Low}
		out[i] = raw[i]
	}
	return raw, out
}

func highCount(pins [NumLines]*gpiotest.Pin) int {
	n := 0
	for _, p := range pins {
		if p.Read() == gpio.High {
			n++
		}
	}
	return n
}

func TestMemoryLines(t *testing.T) {
	t.Parallel()
	var m MemoryLines
	assert.Equal(t, uint8(0), m.Active())
	for _, n := range []uint8{1, 2, 3, 4, 4, 1} {
		require.NoError(t, m.Select(n))
		assert.Equal(t, n, m.Active())
		assert.True(t, m.IsOn(n))
	}
	for _, n := range []uint8{0, 5, 255} {
		require.ErrorIs(t, m.Select(n), ErrInvalidLine)
	}
	assert.Equal(t, uint8(1), m.Active())
}

func TestGPIOLines_ExactlyOneHigh(t *testing.T) {
	t.Parallel()
	raw, out := testPins()
	l := NewGPIOLines(out)
	for _, n := range []uint8{3, 1, 4, 2, 2} {
		require.NoError(t, l.Select(n))
		assert.Equal(t, 1, highCount(raw), "after select %d", n)
		assert.Equal(t, gpio.High, raw[n-1].Read())
		assert.Equal(t, n, l.Active())
	}
}

// flakyPin fails every Out call while fail is set, or only High writes while
// failHigh is set.
type flakyPin struct {
	*gpiotest.Pin
	fail     bool
	failHigh bool
}

var errPinWrite = errors.New("pin write failed")

func (p *flakyPin) Out(l gpio.Level) error {
	if p.fail || (p.failHigh && l == gpio.High) {
		return errPinWrite
	}
	return p.Pin.Out(l)
}

func TestGPIOLines_FailedSelectRestoresPrevious(t *testing.T) {
	t.Parallel()
	raw, out := testPins()
	bad := &flakyPin{Pin: raw[2]}
	out[2] = bad
	l := NewGPIOLines(out)
	require.NoError(t, l.Select(1))

	bad.failHigh = true
	require.ErrorIs(t, l.Select(3), errPinWrite)
	assert.Equal(t, uint8(1), l.Active())
	assert.Equal(t, gpio.High, raw[0].Read())
	assert.Equal(t, 1, highCount(raw))
}

func TestGPIOLines_FailedSelectWithoutRestoreClearsActive(t *testing.T) {
	t.Parallel()
	raw, out := testPins()
	bad := &flakyPin{Pin: raw[1]}
	out[1] = bad
	l := NewGPIOLines(out)
	require.NoError(t, l.Select(3))

	// line 2 cannot be driven at all, so neither the new selection nor the
	// restore of line 3 (which drives line 2 low first) succeeds
	bad.fail = true
	require.ErrorIs(t, l.Select(4), errPinWrite)
	assert.Zero(t, l.Active())
	assert.Zero(t, highCount(raw), "no line may stay high while Active reports none")
}

func TestGPIOLines_RejectsOutOfRange(t *testing.T) {
	t.Parallel()
	raw, out := testPins()
	l := NewGPIOLines(out)
	require.NoError(t, l.Select(2))
	require.ErrorIs(t, l.Select(0), ErrInvalidLine)
	require.ErrorIs(t, l.Select(5), ErrInvalidLine)
	assert.Equal(t, uint8(2), l.Active())
	assert.Equal(t, gpio.High, raw[1].Read())
}

func TestGPIOIndicator_Toggle(t *testing.T) {
	t.Parallel()
	p := &gpiotest.Pin{N: "ACT", L: gpio.Low}
	ind := NewGPIOIndicator(p)
	require.NoError(t, ind.Toggle())
	assert.Equal(t, gpio.High, p.Read())
	require.NoError(t, ind.Toggle())
	assert.Equal(t, gpio.Low, p.Read())
}

func TestButtonTrigger_FiresOnEdge(t *testing.T) {
	t.Parallel()
	p := &gpiotest.Pin{N: "BTN", EdgesChan: make(chan gpio.Level, 1)}
	b := &ButtonTrigger{Pin: p, Poll: 5 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- b.Wait(context.Background()) }()
	p.EdgesChan <- gpio.Low
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("trigger did not fire")
	}
}

func TestButtonTrigger_ContextCancel(t *testing.T) {
	t.Parallel()
	p := &gpiotest.Pin{N: "BTN", EdgesChan: make(chan gpio.Level)}
	b := &ButtonTrigger{Pin: p, Poll: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
