package socketcan

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
	"github.com/kstaniek/go-canlink/internal/transport"
)

type fakeDev struct {
	mu      sync.Mutex
	written []can.Frame
	block   chan struct{}
	err     error
}

func (d *fakeDev) ReadFrame(*can.Frame) error { return errors.New("not used") }
func (d *fakeDev) Close() error               { return nil }
func (d *fakeDev) WriteFrame(fr can.Frame) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.written = append(d.written, fr)
	return nil
}

func TestTXWriter_CountsTransmitted(t *testing.T) {
	dev := &fakeDev{}
	before := metrics.Snap().Tx
	w := NewTXWriter(t.Context(), dev, 8, transport.WriterCallbacks{})
	defer w.Close()
	require.NoError(t, w.SendFrame(can.Std(0x65D, 1)))
	require.NoError(t, w.SendFrame(can.StdRemote(0x651, 2)))
	assert.Eventually(t, func() bool { return metrics.Snap().Tx >= before+2 }, time.Second, 5*time.Millisecond)
	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, []can.Frame{can.Std(0x65D, 1), can.StdRemote(0x651, 2)}, dev.written)
}

func TestTXWriter_OverflowReturnsSentinel(t *testing.T) {
	dev := &fakeDev{block: make(chan struct{})}
	w := NewTXWriter(t.Context(), dev, 1, transport.WriterCallbacks{})
	defer func() { close(dev.block); w.Close() }()

	var overflow bool
	for i := 0; i < 10; i++ {
		if err := w.SendFrame(can.Std(0x65D, 1)); errors.Is(err, ErrTxOverflow) {
			overflow = true
			break
		}
	}
	assert.True(t, overflow)
}

func TestTXWriter_WriteErrorCallback(t *testing.T) {
	boom := errors.New("ENOBUFS")
	dev := &fakeDev{err: boom}
	got := make(chan error, 1)
	w := NewTXWriter(t.Context(), dev, 1, transport.WriterCallbacks{OnWriteError: func(err error) { got <- err }})
	defer w.Close()
	require.NoError(t, w.SendFrame(can.Std(0x65D, 1)))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("no write error callback")
	}
}
