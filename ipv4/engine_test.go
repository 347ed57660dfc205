package ipv4

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

type sendRecord struct {
	datagram []byte
	nextHop  netip.Addr
}

type fakeLower struct {
	sent []sendRecord
}

func (f *fakeLower) Send(datagram []byte, nextHop netip.Addr) error {
	f.sent = append(f.sent, sendRecord{datagram: append([]byte(nil), datagram...), nextHop: nextHop})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeLower) {
	t.Helper()
	lower := &fakeLower{}
	me := mustAddr(t, "192.168.123.2")
	e := NewEngine(me, lower, nil)
	e.SetRoutingTable([]Route{{Prefix: mustPrefix(t, "0.0.0.0/0"), NextHop: mustAddr(t, "192.168.123.1")}})
	return e, lower
}

// TestChecksumProperty3 checks property 3 from spec §8: a valid header's
// checksum recomputes to the same stored value.
func TestChecksumProperty3(t *testing.T) {
	buf := make([]byte, sizeHeader)
	f := buildHeader(buf, [4]byte{192, 168, 123, 2}, [4]byte{192, 168, 123, 1}, 42, 64, ProtoTCP, sizeHeader)
	want := f.Checksum()
	got := f.CalculateHeaderChecksum()
	require.Equal(t, want, got)
}

func datagramWithTTL(t *testing.T, ttl uint8, dst string) []byte {
	t.Helper()
	buf := make([]byte, sizeHeader+12)
	buildHeader(buf, [4]byte{192, 168, 123, 9}, mustAddr(t, dst).As4(), 7, ttl, ProtoTCP, sizeHeader+12)
	copy(buf[sizeHeader:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	return buf
}

// TestTTLExpiryICMP checks property 4 / scenario from spec §8: TTL=1
// produces an ICMP Time Exceeded to the source.
func TestTTLExpiryICMP(t *testing.T) {
	e, lower := newTestEngine(t)
	dgram := datagramWithTTL(t, 1, "8.8.8.8")

	e.Recv(dgram)

	require.Len(t, lower.sent, 1)
	icmpFrame, err := NewFrame(lower.sent[0].datagram)
	require.NoError(t, err)
	require.Equal(t, uint8(ProtoICMP), icmpFrame.Protocol())
	require.Equal(t, [4]byte{192, 168, 123, 2}, *icmpFrame.SourceAddr())
	require.Equal(t, [4]byte{192, 168, 123, 9}, *icmpFrame.DestinationAddr())

	icmpPayload := icmpFrame.Payload()
	require.Equal(t, uint8(11), icmpPayload[0]) // type
	require.Equal(t, uint8(0), icmpPayload[1])  // code
	// original header + 8 bytes of payload echoed back.
	require.Equal(t, dgram[:sizeHeader+8], icmpPayload[8:])
}

// TestForwardDecrementsTTL checks the second half of property 4: TTL=2 is
// forwarded with TTL=1 and a recomputed checksum.
func TestForwardDecrementsTTL(t *testing.T) {
	e, lower := newTestEngine(t)
	dgram := datagramWithTTL(t, 2, "8.8.8.8")

	e.Recv(dgram)

	require.Len(t, lower.sent, 1)
	f, err := NewFrame(lower.sent[0].datagram)
	require.NoError(t, err)
	require.Equal(t, uint8(1), f.TTL())
	require.Equal(t, f.CalculateHeaderChecksum(), f.Checksum())
	require.Equal(t, mustAddr(t, "192.168.123.1"), lower.sent[0].nextHop)
}

func TestHostDelivery(t *testing.T) {
	e, _ := newTestEngine(t)
	var gotSrc, gotDst netip.Addr
	var gotPayload []byte
	e.RegisterReceiver(func(src, dst netip.Addr, payload []byte) {
		gotSrc, gotDst, gotPayload = src, dst, payload
	})
	buf := make([]byte, sizeHeader+3)
	buildHeader(buf, [4]byte{192, 168, 123, 1}, [4]byte{192, 168, 123, 2}, 1, 64, ProtoTCP, sizeHeader+3)
	copy(buf[sizeHeader:], "abc")

	e.Recv(buf)

	require.Equal(t, mustAddr(t, "192.168.123.1"), gotSrc)
	require.Equal(t, mustAddr(t, "192.168.123.2"), gotDst)
	require.Equal(t, []byte("abc"), gotPayload)
}

func TestSendBuildsFreshHeaderWithIncrementingID(t *testing.T) {
	e, lower := newTestEngine(t)
	segment := []byte("segment-bytes")

	require.NoError(t, e.Send(segment, mustAddr(t, "8.8.8.8")))
	require.NoError(t, e.Send(segment, mustAddr(t, "8.8.8.8")))

	require.Len(t, lower.sent, 2)
	f0, _ := NewFrame(lower.sent[0].datagram)
	f1, _ := NewFrame(lower.sent[1].datagram)
	require.Equal(t, uint16(0), f0.ID())
	require.Equal(t, uint16(1), f1.ID())
	require.Equal(t, uint8(64), f0.TTL())
	require.Equal(t, uint8(ProtoTCP), f0.Protocol())
}
