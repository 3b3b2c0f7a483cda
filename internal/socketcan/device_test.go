//go:build linux

package socketcan

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canlink/internal/can"
)

func TestFrameLayoutRoundTrip(t *testing.T) {
	for _, fr := range []can.Frame{
		can.Std(0x65D, 3),
		can.Std(0x651, 0xAB, 0xCD),
		can.StdRemote(0x651, 2),
		{CANID: 0x1ABCDE | can.CAN_EFF_FLAG, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
	} {
		var buf [unix.CAN_MTU]byte
		marshalFrame(fr, buf[:])
		var got can.Frame
		require.NoError(t, unmarshalFrame(buf[:], &got))
		assert.Equal(t, fr, got)
	}
}

func TestUnmarshalRemoteIgnoresData(t *testing.T) {
	var buf [unix.CAN_MTU]byte
	marshalFrame(can.StdRemote(0x651, 2), buf[:])
	buf[8], buf[9] = 0xFF, 0xFF
	var got can.Frame
	require.NoError(t, unmarshalFrame(buf[:], &got))
	assert.True(t, got.Remote())
	assert.Equal(t, uint8(2), got.Len)
	assert.Equal(t, [8]byte{}, got.Data)
}

func TestUnmarshalClampsDLC(t *testing.T) {
	var buf [unix.CAN_MTU]byte
	marshalFrame(can.Std(0x65D, 1), buf[:])
	buf[4] = 15
	var got can.Frame
	require.NoError(t, unmarshalFrame(buf[:], &got))
	assert.Equal(t, uint8(8), got.Len)
}
