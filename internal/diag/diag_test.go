package diag

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canlink/internal/metrics"
)

// lockedBuffer keeps the race detector quiet while the drain goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// blockingWriter stalls the drain goroutine until released.
type blockingWriter struct{ release chan struct{} }

func (w *blockingWriter) Write(p []byte) (int, error) { <-w.release; return len(p), nil }

func TestQueue_DrainsToLogger(t *testing.T) {
	var out lockedBuffer
	l := slog.New(slog.NewTextHandler(&out, nil))
	q := NewQueue(context.Background(), l, 8)
	q.Emit("Reply Received: 0x1234")
	Printf(q, "Message Received: #%X", 3)
	q.Close()

	s := out.String()
	assert.Contains(t, s, "Reply Received: 0x1234")
	assert.Contains(t, s, "Message Received: #3")
	assert.Equal(t, 2, strings.Count(s, "msg=diag"))
}

func TestQueue_EmitNeverBlocks(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	l := slog.New(slog.NewTextHandler(w, nil))
	q := NewQueue(context.Background(), l, 2)
	before := metrics.Snap().DiagDropped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			q.Emit("line")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked behind a stalled logger")
	}
	assert.Greater(t, metrics.Snap().DiagDropped, before)
	close(w.release)
	q.Close()
}

func TestRecorder(t *testing.T) {
	var r Recorder
	Printf(&r, "a=%d", 1)
	r.Emit("b")
	require.Equal(t, []string{"a=1", "b"}, r.Lines())
	r.Reset()
	assert.Empty(t, r.Lines())
	Printf(nil, "ignored")
}
