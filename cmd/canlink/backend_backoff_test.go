package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-canlink/internal/serial"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// fakeErrPort always returns a synthetic error to trigger backoff.
type fakeErrPort struct{}

func (f *fakeErrPort) Read(p []byte) (int, error)  { return 0, io.ErrNoProgress }
func (f *fakeErrPort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeErrPort) Close() error                { return nil }

func TestSerialBackendBackoffProgression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) { return &fakeErrPort{}, nil }
	defer func() { openSerialPort = serial.Open }()

	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		if len(seen) < 8 {
			seen = append(seen, d)
			if len(seen) == 8 {
				cancel()
			}
		}
		mu.Unlock()
	}
	defer func() { sleepFn = time.Sleep }()

	var wg sync.WaitGroup
	_, cleanup, err := initSerialBackend(ctx, testConfig(backendSerial), newRecvRecorder(), transport.WriterCallbacks{}, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	wg.Wait()
	cleanup()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("expected at least 3 backoff samples, got %d", len(seen))
	}
	if seen[0] != rxBackoffMin {
		t.Fatalf("expected first backoff %v got %v", rxBackoffMin, seen[0])
	}
	prev := seen[0]
	for i, d := range seen[1:] {
		if d < prev {
			t.Fatalf("backoff decreased at %d: prev=%v cur=%v", i+1, prev, d)
		}
		if d > rxBackoffMax {
			t.Fatalf("backoff exceeded max at %d: %v > %v", i+1, d, rxBackoffMax)
		}
		prev = d
	}
	if seen[len(seen)-1] != rxBackoffMax {
		t.Fatalf("expected backoff to saturate at %v, got %v", rxBackoffMax, seen[len(seen)-1])
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(rxBackoffMin); got != 2*rxBackoffMin {
		t.Fatalf("got %v", got)
	}
	if got := nextBackoff(rxBackoffMax); got != rxBackoffMax {
		t.Fatalf("got %v", got)
	}
}
