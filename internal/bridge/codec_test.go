package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

func TestCodec_RoundTrip(t *testing.T) {
	in := []can.Frame{
		can.Std(0x65D, 2),
		can.StdRemote(0x651, 2),
		can.Std(0x651, 0xAB, 0xCD),
		{CANID: 0x1E5A | can.CAN_EFF_FLAG, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		can.Std(0x7),
	}
	wire := Codec{}.Encode(in)
	var out []can.Frame
	n, err := Codec{}.DecodeN(bytes.NewReader(wire), 0, func(f can.Frame) { out = append(out, f) })
	if !errors.Is(err, io.EOF) {
		t.Fatalf("DecodeN unexpected err: %v", err)
	}
	if n != len(in) {
		t.Fatalf("decoded %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("frame %d mismatch: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestCodec_RemoteHasNoPayload(t *testing.T) {
	fr := can.StdRemote(0x651, 2)
	fr.Data[0] = 0xEE
	wire := Codec{}.Encode([]can.Frame{fr})
	want := []byte{0x40, 0x00, 0x06, 0x51, 0x02}
	if !bytes.Equal(wire, want) {
		t.Fatalf("wire % X, want % X", wire, want)
	}
}

func TestCodec_EncodeToMatchesEncode(t *testing.T) {
	frames := []can.Frame{can.Std(0x10, 1, 2, 3, 4, 5, 6, 7, 8), can.Std(0x11, 1, 2, 3)}
	var buf bytes.Buffer
	if _, err := (Codec{}).EncodeTo(&buf, frames); err != nil {
		t.Fatalf("EncodeTo error: %v", err)
	}
	if !bytes.Equal(Codec{}.Encode(frames), buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch")
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	before := metrics.Snap().Malformed
	bad := bytes.NewReader([]byte{0, 0, 0, 1, 0x89})
	if _, err := (Codec{}).Decode(bad); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	trunc := bytes.NewReader([]byte{0, 0, 0, 2, 0x05, 1, 2, 3})
	if _, err := (Codec{}).Decode(trunc); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
	half := bytes.NewReader([]byte{0, 0})
	if _, err := (Codec{}).Decode(half); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame for partial header, got %v", err)
	}
	if metrics.Snap().Malformed < before+3 {
		t.Fatalf("expected malformed counter to grow by 3")
	}
}

func FuzzCodec_Decode(f *testing.F) {
	f.Add(Codec{}.Encode([]can.Frame{can.Std(0x65D, 1), can.StdRemote(0x651, 2)}))
	f.Add([]byte{0, 0, 0, 1, 0xFF})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = Codec{}.DecodeN(r, 0, func(fr can.Frame) {
			if fr.Len > can.MaxLen {
				t.Fatalf("decoded oversized frame %+v", fr)
			}
		})
	})
}

func TestHandshakeLoopback(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- Handshake(ctx, srv, 2*time.Second) }()

	if err := Handshake(ctx, cli, 2*time.Second); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestHandshakeBadHello(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	go func() {
		_, _ = cli.Write([]byte("NOTCANNELLON"))
		_, _ = io.ReadFull(cli, make([]byte, len(hello)))
	}()
	if err := Handshake(context.Background(), srv, time.Second); !errors.Is(err, ErrBadHello) {
		t.Fatalf("expected ErrBadHello, got %v", err)
	}
}

func BenchmarkCodec_EncodeTo(b *testing.B) {
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = can.Std(uint32(0x200+i), 1, 2, 3, 4, 5, 6, 7, 8)
	}
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = Codec{}.EncodeTo(&buf, frames)
	}
}
