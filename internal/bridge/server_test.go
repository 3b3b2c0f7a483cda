package bridge

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/vbus"
)

func startServer(t *testing.T, opts ...ServerOption) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]ServerOption{WithHandshakeTimeout(2 * time.Second), WithLogger(logging.Discard())}, opts...)
	srv := NewServer(opts...)
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		cancel()
		t.Fatal("server did not signal readiness")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	})
	return srv, cancel
}

func dialClient(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, Handshake(context.Background(), conn, 2*time.Second))
	return conn
}

func TestServer_ClientFramesReachBus(t *testing.T) {
	bus := vbus.New()
	tap := bus.Attach()
	srv, _ := startServer(t, WithBus(bus))
	conn := dialClient(t, srv.Addr())

	_, err := Codec{}.EncodeTo(conn, []can.Frame{can.Std(0x65D, 3), can.StdRemote(0x651, 2)})
	require.NoError(t, err)

	var got []can.Frame
	require.Eventually(t, func() bool {
		for len(tap.Out) > 0 {
			got = append(got, <-tap.Out)
		}
		return len(got) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []can.Frame{can.Std(0x65D, 3), can.StdRemote(0x651, 2)}, got)
}

func TestServer_BusFramesReachClient(t *testing.T) {
	bus := vbus.New()
	srv, _ := startServer(t, WithBus(bus))
	conn := dialClient(t, srv.Addr())
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Broadcast(can.Std(0x651, 0xAB, 0xCD))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	fr, err := Codec{}.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, can.Std(0x651, 0xAB, 0xCD), fr)
}

func TestServer_SendOverridesBusAndDropsErrorFrames(t *testing.T) {
	var mu sync.Mutex
	var sent []can.Frame
	send := func(fr can.Frame) error {
		mu.Lock()
		sent = append(sent, fr)
		mu.Unlock()
		return nil
	}
	bus := vbus.New()
	tap := bus.Attach()
	srv, _ := startServer(t, WithBus(bus), WithSend(send))
	conn := dialClient(t, srv.Addr())

	_, err := Codec{}.EncodeTo(conn, []can.Frame{
		{CANID: can.CAN_ERR_FLAG | 0x40, Len: 8},
		can.Std(0x65D, 1),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, can.Std(0x65D, 1), sent[0])
	mu.Unlock()
	assert.Zero(t, len(tap.Out), "frames handed to Send must not be injected on the bus")
}

func TestServer_ClientDisconnectDetaches(t *testing.T) {
	bus := vbus.New()
	srv, _ := startServer(t, WithBus(bus))
	conn := dialClient(t, srv.Addr())
	require.Eventually(t, func() bool { return bus.Count() == 1 }, time.Second, 5*time.Millisecond)
	_ = conn.Close()
	require.Eventually(t, func() bool { return bus.Count() == 0 && srv.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_MaxClients(t *testing.T) {
	srv, _ := startServer(t, WithMaxClients(1))
	dialClient(t, srv.Addr())
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	second := dialClient(t, srv.Addr())
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	_, err := second.Read(make([]byte, 1))
	assert.Error(t, err, "second client should be closed")
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServer_HandshakeFailureCounted(t *testing.T) {
	srv, _ := startServer(t, WithHandshakeTimeout(100*time.Millisecond))
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_, _ = conn.Write([]byte("garbagegarba"))
	select {
	case err := <-srv.Errors():
		assert.ErrorIs(t, err, ErrHandshake)
	case <-time.After(2 * time.Second):
		t.Fatal("expected handshake error")
	}
}
