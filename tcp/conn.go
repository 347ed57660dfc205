package tcp

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/rs/xid"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/metrics"
	"github.com/pty-net/slipstack/reactor"
)

// alpha/beta are the Jacobson/Karn RTT estimator gains from spec §3 and
// §4.3, matching `utils/tcp.py`'s ALPHA/BETA constants.
const (
	alpha             = 0.125
	beta              = 0.25
	defaultRTOSeconds = 3 * time.Second
)

// unackedSegment is one outstanding, unacknowledged on-the-wire segment.
// retransmitted marks it ineligible as an RTT sample, per Karn's rule.
type unackedSegment struct {
	seqNo         uint32
	encoded       []byte
	sentAt        time.Time
	retransmitted bool
}

// queuedSegment is a segment built by [Connection.sendSegment] but not yet
// admitted past the congestion window.
type queuedSegment struct {
	seqNo   uint32
	flags   Flags
	payload []byte
}

// Receiver is invoked with each in-order payload delivered to the
// application above (IRC). A nil/empty payload on FIN signals end-of-stream,
// per spec §4.3's FIN handling.
type Receiver func(c *Connection, payload []byte)

// Connection is the per-peer TCP state machine of spec §3 ("TCP Connection
// State"): sequence/ack tracking, the unacked and pending-send queues, the
// AIMD window, and the RTT estimator, all touched only from the owning
// [reactor.Loop]'s goroutine.
type Connection struct {
	id     ConnectionID
	server *Server
	loop   *reactor.Loop
	log    *slog.Logger
	connID xid.ID

	currentSeqNo      uint32
	lastAckedNo       uint32
	expectedSeqNo     uint32
	currentWindowSize int

	unackedSegments []unackedSegment
	sendingQueue    []queuedSegment

	estimatedRTT      time.Duration
	devRTT            time.Duration
	hasRTTSample      bool
	handshakeComplete bool
	readyToClose      bool

	timer *reactor.Timer

	receiver Receiver
}

func newConnection(server *Server, id ConnectionID, peerSeq uint32) *Connection {
	isn := uint32(server.rng.Intn(1 << 16))
	c := &Connection{
		id:                id,
		server:            server,
		loop:              server.loop,
		log:               server.log,
		connID:            xid.New(),
		currentSeqNo:      isn,
		lastAckedNo:       isn,
		expectedSeqNo:     peerSeq + 1,
		currentWindowSize: 1,
	}
	internal.LogAttrs(c.log, slog.LevelInfo, "tcp: connection accepted",
		slog.String("conn", c.connID.String()),
		internal.SlogAddr4("peer", id.PeerAddr.As4()), slog.Int("peer_port", int(id.PeerPort)))
	c.sendSegment(FlagSYN|FlagACK, nil)
	return c
}

// RegisterReceiver installs the callback invoked with each in-order payload
// and with FIN end-of-stream, mirroring the IP engine's same-named method.
func (c *Connection) RegisterReceiver(fn Receiver) { c.receiver = fn }

// ID returns the connection's 4-tuple.
func (c *Connection) ID() ConnectionID { return c.id }

// PeerAddr is the remote endpoint's address.
func (c *Connection) PeerAddr() netip.Addr { return c.id.PeerAddr }

// Send queues payload for reliable delivery, splitting it into MSS-sized
// segments as needed.
func (c *Connection) Send(payload []byte) {
	c.sendSegment(FlagACK, payload)
}

// Close begins an active close: a FIN is queued and the connection is
// removed from the server's table as soon as the next new ACK is processed
// (spec §4.3's ready_to_close flag), even if the FIN itself is still
// unacknowledged.
func (c *Connection) Close() {
	c.readyToClose = true
	c.sendSegment(FlagFIN, nil)
}

// recv implements the per-segment state machine of spec §4.3: FIN handling,
// cumulative ACK processing (window growth, Karn-filtered RTT sampling,
// unacked-queue trimming), in-order data delivery, and the bare-ACK reply.
func (c *Connection) recv(seqNo, ackNo uint32, flags Flags, payload []byte) {
	if flags.Has(FlagFIN) {
		c.expectedSeqNo++
		c.sendSegment(FlagACK, nil)
		if c.receiver != nil {
			c.receiver(c, nil)
		}
		return
	}

	if flags.Has(FlagACK) && ackNo > c.lastAckedNo {
		c.handleAck(ackNo)
	}

	if len(payload) == 0 {
		return
	}

	if seqNo == c.expectedSeqNo {
		c.expectedSeqNo += uint32(len(payload))
		if c.receiver != nil {
			c.receiver(c, payload)
		}
	}
	// Out-of-order segments are silently dropped, per spec §1 Non-goals
	// (no reassembly buffer, no SACK).

	c.sendSegment(FlagACK, nil)
}

// handleAck applies a cumulative ACK: cancels the timer, advances
// last_acked_no, grows the window, trims the unacked queue, and samples RTT
// for the boundary segment if it was never retransmitted (Karn's rule).
func (c *Connection) handleAck(ackNo uint32) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.lastAckedNo = ackNo
	if c.handshakeComplete {
		c.currentWindowSize++
		metrics.TCPCongestionWindow.WithLabelValues(c.id.PeerAddr.String()).Set(float64(c.currentWindowSize))
	}

	idx := len(c.unackedSegments)
	for i, u := range c.unackedSegments {
		if u.seqNo >= c.lastAckedNo {
			idx = i
			break
		}
	}
	if idx > 0 {
		boundary := c.unackedSegments[idx-1]
		if !boundary.retransmitted {
			c.estimateRTT(c.loop.Clock().Now().Sub(boundary.sentAt))
		}
	}
	c.unackedSegments = c.unackedSegments[idx:]

	if len(c.unackedSegments) > 0 {
		c.timer = c.loop.AfterFunc(c.timeoutInterval(), c.onTimerFire)
	}

	c.sendQueue()

	if c.readyToClose {
		c.server.removeConnection(c.id)
	}
}

// estimateRTT updates the Jacobson/Karn estimator. The very first sample
// ever taken is the handshake's closing ACK, which by definition carries no
// usable RTT information (the client's ACK timing reflects its own
// reaction, not network delay) — it only flips handshakeComplete.
func (c *Connection) estimateRTT(sample time.Duration) {
	if !c.handshakeComplete {
		c.handshakeComplete = true
		return
	}
	if !c.hasRTTSample {
		c.estimatedRTT = sample
		c.devRTT = sample / 2
		c.hasRTTSample = true
		return
	}
	c.estimatedRTT = time.Duration((1-alpha)*float64(c.estimatedRTT) + alpha*float64(sample))
	dev := sample - c.estimatedRTT
	if dev < 0 {
		dev = -dev
	}
	c.devRTT = time.Duration((1-beta)*float64(c.devRTT) + beta*float64(dev))
}

func (c *Connection) timeoutInterval() time.Duration {
	if !c.hasRTTSample {
		return defaultRTOSeconds
	}
	return c.estimatedRTT + 4*c.devRTT
}

// inFlightBytes is the span between the oldest unacked sequence number and
// the highest one queued, per spec §4.3's window accounting.
func (c *Connection) inFlightBytes() uint32 {
	if len(c.unackedSegments) == 0 {
		return 0
	}
	last := c.unackedSegments[len(c.unackedSegments)-1]
	return last.seqNo - c.lastAckedNo + 1
}

// onTimerFire implements retransmission: the head of the unacked queue is
// resent, the window is halved (floor 1), and the timer rearms. Per spec
// §9's fix, it does NOT rearm if the queue is empty when the timer fires —
// the original always rearmed unconditionally, which leaked a live timer
// with nothing left to retransmit.
func (c *Connection) onTimerFire() {
	if len(c.unackedSegments) == 0 {
		return
	}
	c.currentWindowSize = c.currentWindowSize / 2
	if c.currentWindowSize < 1 {
		c.currentWindowSize = 1
	}
	head := &c.unackedSegments[0]
	if err := c.server.network.Send(head.encoded, c.id.PeerAddr); err != nil {
		internal.LogAttrs(c.log, slog.LevelWarn, "tcp: retransmit send failed", slog.String("err", err.Error()))
	}
	metrics.TCPSegmentsRetransmitted.Inc()
	metrics.TCPCongestionWindow.WithLabelValues(c.id.PeerAddr.String()).Set(float64(c.currentWindowSize))
	head.retransmitted = true
	c.timer = c.loop.AfterFunc(c.timeoutInterval(), c.onTimerFire)
}

// sendSegment splits payload into MSS-sized chunks, enqueues each as a
// queuedSegment carrying the same flags, and advances current_seq_no —
// including the +1 consumed by a bare SYN/FIN with no payload — exactly as
// `_send_segment` does in the original `transport_layer/tcp.py`.
func (c *Connection) sendSegment(flags Flags, payload []byte) {
	for len(payload) > MSS {
		c.sendingQueue = append(c.sendingQueue, queuedSegment{seqNo: c.currentSeqNo, flags: flags, payload: payload[:MSS]})
		c.currentSeqNo += MSS
		payload = payload[MSS:]
	}
	c.sendingQueue = append(c.sendingQueue, queuedSegment{seqNo: c.currentSeqNo, flags: flags, payload: payload})
	c.currentSeqNo += uint32(len(payload))
	if len(payload) == 0 && (flags.Has(FlagSYN) || flags.Has(FlagFIN)) {
		c.currentSeqNo++
	}
	c.sendQueue()
}

// sendQueue admits queued segments onto the wire while they fit inside the
// AIMD congestion window, per spec §4.3.
func (c *Connection) sendQueue() {
	for len(c.sendingQueue) > 0 {
		next := c.sendingQueue[0]
		if c.inFlightBytes()+uint32(len(next.payload)) > uint32(c.currentWindowSize)*MSS {
			break
		}
		c.sendingQueue = c.sendingQueue[1:]

		segment := buildSegment(c.id.LocalPort, c.id.PeerPort, next.seqNo, c.expectedSeqNo, next.flags, 8*MSS, next.payload)
		f, _ := NewFrame(segment)
		f.SetChecksum(0)
		f.SetChecksum(ipv4Checksum(c.id.LocalAddr.As4(), c.id.PeerAddr.As4(), segment))

		c.unackedSegments = append(c.unackedSegments, unackedSegment{
			seqNo:   next.seqNo,
			encoded: segment,
			sentAt:  c.loop.Clock().Now(),
		})
		if err := c.server.network.Send(segment, c.id.PeerAddr); err != nil {
			internal.LogAttrs(c.log, slog.LevelWarn, "tcp: send failed", slog.String("err", err.Error()))
		}
		metrics.TCPSegmentsSent.Inc()
		if c.timer == nil {
			c.timer = c.loop.AfterFunc(c.timeoutInterval(), c.onTimerFire)
		}
	}
}
