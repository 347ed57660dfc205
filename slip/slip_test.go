package slip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncodeS1 exercises spec scenario S1: encode DE AD C0 BE DB EF and
// check the exact framed byte string.
func TestEncodeS1(t *testing.T) {
	in := []byte{0xDE, 0xAD, 0xC0, 0xBE, 0xDB, 0xEF}
	want := []byte{0xC0, 0xDE, 0xAD, 0xDB, 0xDC, 0xBE, 0xDB, 0xDD, 0xEF, 0xC0}
	got := Encode(nil, in)
	require.Equal(t, want, got)
}

func TestEncodeEmptyDatagramNotEmitted(t *testing.T) {
	got := Encode(nil, nil)
	require.Empty(t, got)
}

// TestRoundTrip checks property 1 from spec §8: decode(encode(b)) == [b].
func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x01},
		{0xC0, 0xC0, 0xC0},
		{0xDB, 0xDB},
		[]byte("hello, world"),
		{0xDE, 0xAD, 0xC0, 0xBE, 0xDB, 0xEF},
	}
	for _, b := range cases {
		var got [][]byte
		fr := NewFramer(nil)
		fr.RegisterReceiver(func(datagram []byte) {
			got = append(got, append([]byte(nil), datagram...))
		})
		link := &Link{framer: fr}
		link.rawRecv(Encode(nil, b))
		require.Len(t, got, 1)
		require.Equal(t, b, got[0])
	}
}

// TestRoundTripTwoFrames checks decode(encode(b1) ++ encode(b2)) == [b1, b2]
// and that an empty frame sandwiched between two valid ones is swallowed.
func TestRoundTripTwoFrames(t *testing.T) {
	b1 := []byte("first")
	b2 := []byte("second")

	var frame []byte
	frame = Encode(frame, b1)
	frame = append(frame, frameEnd, frameEnd) // empty frame between the two
	frame = Encode(frame, b2)

	var got [][]byte
	fr := NewFramer(nil)
	fr.RegisterReceiver(func(datagram []byte) {
		got = append(got, append([]byte(nil), datagram...))
	})
	link := &Link{framer: fr}
	link.rawRecv(frame)

	require.Equal(t, [][]byte{b1, b2}, got)
}

func TestDecodePanicIsolated(t *testing.T) {
	fr := NewFramer(nil)
	calls := 0
	fr.RegisterReceiver(func(datagram []byte) {
		calls++
		panic("boom")
	})
	link := &Link{framer: fr}
	link.rawRecv(Encode(nil, []byte("one")))
	link.rawRecv(Encode(nil, []byte("two")))
	require.Equal(t, 2, calls, "decoder must keep working after a panicking receiver")
}

func TestEOFResetsState(t *testing.T) {
	fr := NewFramer(nil)
	var got [][]byte
	fr.RegisterReceiver(func(datagram []byte) {
		got = append(got, datagram)
	})
	link := &Link{framer: fr}
	link.rawRecv([]byte{frameEnd, 'a', 'b'}) // mid-frame
	link.rawRecv(nil)                        // EOF: discard in-progress frame
	require.Empty(t, got)
	require.Equal(t, stateIdle, link.state)
}
