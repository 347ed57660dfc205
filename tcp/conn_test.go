package tcp

import (
	"net/netip"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pty-net/slipstack/reactor"
)

type sentSegment struct {
	data []byte
	dest netip.Addr
}

type fakeNetwork struct {
	sent []sentSegment
}

func (f *fakeNetwork) Send(segment []byte, dest netip.Addr) error {
	f.sent = append(f.sent, sentSegment{data: append([]byte(nil), segment...), dest: dest})
	return nil
}

func (f *fakeNetwork) last() Frame {
	frame, _ := NewFrame(f.sentLast())
	return frame
}

func (f *fakeNetwork) sentLast() []byte { return f.sent[len(f.sent)-1].data }

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T) (*Server, *fakeNetwork, *reactor.Loop) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	loop := reactor.New(clock, nil)
	net := &fakeNetwork{}
	srv := NewServer(7000, net, loop, nil)
	return srv, net, loop
}

// clientSegment builds a checksummed inbound segment as the peer would
// send it, for feeding straight into Server.Recv.
func clientSegment(srcPort, dstPort uint16, seq, ack uint32, flags Flags, payload []byte, srcAddr, dstAddr netip.Addr) []byte {
	seg := buildSegment(srcPort, dstPort, seq, ack, flags, 8*MSS, payload)
	f, _ := NewFrame(seg)
	f.SetChecksum(ipv4Checksum(srcAddr.As4(), dstAddr.As4(), seg))
	return seg
}

// TestHandshakeAndDataProperty5 checks property 5 from spec §8: a SYN
// creates a connection and replies with SYN|ACK; the client's closing ACK
// completes the handshake without producing an RTT sample.
func TestHandshakeAndDataProperty5(t *testing.T) {
	srv, net, _ := newTestServer(t)
	peer := mustAddr(t, "10.0.0.9")
	me := mustAddr(t, "10.0.0.1")

	var accepted *Connection
	srv.RegisterAcceptedConnectionsMonitor(func(c *Connection) { accepted = c })

	syn := clientSegment(5555, 7000, 100, 0, FlagSYN, nil, peer, me)
	srv.Recv(peer, me, syn)

	require.NotNil(t, accepted)
	require.Len(t, net.sent, 1)
	synack := net.last()
	require.True(t, synack.Flags().Has(FlagSYN))
	require.True(t, synack.Flags().Has(FlagACK))
	require.Equal(t, uint32(101), synack.AckNumber())

	serverISN := synack.SeqNumber()
	ack := clientSegment(5555, 7000, 101, serverISN+1, FlagACK, nil, peer, me)
	srv.Recv(peer, me, ack)

	require.True(t, accepted.handshakeComplete)
	require.False(t, accepted.hasRTTSample)
}

// TestDataDeliveryAndAck checks that in-order data is delivered to the
// application and a bare ACK is returned.
func TestDataDeliveryAndAck(t *testing.T) {
	srv, net, _ := newTestServer(t)
	peer := mustAddr(t, "10.0.0.9")
	me := mustAddr(t, "10.0.0.1")

	var accepted *Connection
	var delivered []byte
	srv.RegisterAcceptedConnectionsMonitor(func(c *Connection) {
		accepted = c
		c.RegisterReceiver(func(_ *Connection, payload []byte) { delivered = payload })
	})

	srv.Recv(peer, me, clientSegment(5555, 7000, 100, 0, FlagSYN, nil, peer, me))
	serverISN := net.last().SeqNumber()
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, serverISN+1, FlagACK, nil, peer, me))

	data := clientSegment(5555, 7000, 101, serverISN+1, FlagACK, []byte("hello"), peer, me)
	srv.Recv(peer, me, data)

	require.Equal(t, []byte("hello"), delivered)
	ackReply := net.last()
	require.True(t, ackReply.Flags().Has(FlagACK))
	require.Equal(t, uint32(106), ackReply.AckNumber())
	require.Equal(t, accepted.expectedSeqNo, uint32(106))
}

// TestAIMDWindowGrowsOnAck checks property 6 from spec §8: each
// non-duplicate ACK after the handshake grows the congestion window by one.
func TestAIMDWindowGrowsOnAck(t *testing.T) {
	srv, net, _ := newTestServer(t)
	peer := mustAddr(t, "10.0.0.9")
	me := mustAddr(t, "10.0.0.1")

	var conn *Connection
	srv.RegisterAcceptedConnectionsMonitor(func(c *Connection) { conn = c })
	srv.Recv(peer, me, clientSegment(5555, 7000, 100, 0, FlagSYN, nil, peer, me))
	serverISN := net.last().SeqNumber()
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, serverISN+1, FlagACK, nil, peer, me))

	require.Equal(t, 1, conn.currentWindowSize)

	conn.Send([]byte("a"))
	sentSeq := net.last().SeqNumber()
	ackSeg := clientSegment(5555, 7000, 101, sentSeq+1, FlagACK, nil, peer, me)
	srv.Recv(peer, me, ackSeg)

	require.Equal(t, 2, conn.currentWindowSize)
}

// TestRetransmissionHalvesWindowAndDoesNotRearmWhenDry checks property 7
// and the spec §9 fix: a timeout retransmits the head segment and halves
// the window, and stops rearming the timer once the unacked queue drains.
// The timer's firing is invoked directly rather than through the reactor's
// clock, since the callback it posts is exactly onTimerFire.
func TestRetransmissionHalvesWindowAndDoesNotRearmWhenDry(t *testing.T) {
	srv, net, _ := newTestServer(t)
	peer := mustAddr(t, "10.0.0.9")
	me := mustAddr(t, "10.0.0.1")

	var conn *Connection
	srv.RegisterAcceptedConnectionsMonitor(func(c *Connection) { conn = c })
	srv.Recv(peer, me, clientSegment(5555, 7000, 100, 0, FlagSYN, nil, peer, me))
	serverISN := net.last().SeqNumber()
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, serverISN+1, FlagACK, nil, peer, me))

	conn.currentWindowSize = 4
	conn.Send([]byte("retry-me"))
	sentBefore := len(net.sent)
	require.NotEmpty(t, conn.unackedSegments)

	conn.onTimerFire()

	require.Equal(t, 2, conn.currentWindowSize)
	require.True(t, conn.unackedSegments[0].retransmitted)
	require.Greater(t, len(net.sent), sentBefore)

	// Now ACK it; the queue drains and a second fire must be a no-op since
	// onTimerFire bails out immediately when nothing is outstanding.
	seq := conn.unackedSegments[0].seqNo
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, seq+8, FlagACK, nil, peer, me))
	require.Empty(t, conn.unackedSegments)

	sentBeforeSecondFire := len(net.sent)
	conn.onTimerFire()
	require.Equal(t, sentBeforeSecondFire, len(net.sent))
}

// TestCloseRemovesConnectionEvenWithOutstandingUnacked checks spec §4.3's
// close procedure: once ready_to_close is set, the connection is
// deregistered as soon as any ACK is processed, regardless of whether other
// segments (here, the FIN itself) are still unacknowledged.
func TestCloseRemovesConnectionEvenWithOutstandingUnacked(t *testing.T) {
	srv, net, _ := newTestServer(t)
	peer := mustAddr(t, "10.0.0.9")
	me := mustAddr(t, "10.0.0.1")

	var conn *Connection
	srv.RegisterAcceptedConnectionsMonitor(func(c *Connection) { conn = c })
	srv.Recv(peer, me, clientSegment(5555, 7000, 100, 0, FlagSYN, nil, peer, me))
	serverISN := net.last().SeqNumber()
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, serverISN+1, FlagACK, nil, peer, me))

	conn.currentWindowSize = 4
	dataSeq := conn.currentSeqNo
	conn.Send([]byte("data"))
	conn.Close()
	require.Len(t, conn.unackedSegments, 2) // the data segment and the FIN

	// ACK only the data segment; the FIN remains outstanding.
	srv.Recv(peer, me, clientSegment(5555, 7000, 101, dataSeq+4, FlagACK, nil, peer, me))

	require.NotEmpty(t, conn.unackedSegments)
	_, ok := srv.Lookup(conn.id)
	require.False(t, ok, "connection must be deregistered once ready_to_close and an ACK are processed, even with segments still unacked")
}
