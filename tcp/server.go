package tcp

import (
	"log/slog"
	"math/rand"
	"net/netip"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/metrics"
	"github.com/pty-net/slipstack/reactor"
)

// NetworkLayer is the single `send(segment, dest_addr)` contract the IPv4
// engine offers upward, from the TCP server's point of view.
type NetworkLayer interface {
	Send(segment []byte, dest netip.Addr) error
}

// AcceptFunc is invoked synchronously, on the reactor loop, the instant a
// SYN creates a new [Connection] — before any data has arrived — matching
// spec §5's "accept-monitor callback invoked synchronously" design.
type AcceptFunc func(*Connection)

// Server demultiplexes inbound segments by destination port and owns every
// [Connection] for that port, per spec §3 ("TCP Server State").
type Server struct {
	port        uint16
	network     NetworkLayer
	loop        *reactor.Loop
	log         *slog.Logger
	connections map[ConnectionID]*Connection
	onAccept    AcceptFunc
	rng         *rand.Rand
}

// NewServer constructs a Server listening on port, sending outbound
// segments through network.
func NewServer(port uint16, network NetworkLayer, loop *reactor.Loop, log *slog.Logger) *Server {
	return &Server{
		port:        port,
		network:     network,
		loop:        loop,
		log:         log,
		connections: make(map[ConnectionID]*Connection),
		rng:         rand.New(rand.NewSource(loop.Clock().Now().UnixNano())),
	}
}

// RegisterAcceptedConnectionsMonitor installs fn as the callback described
// by [AcceptFunc].
func (s *Server) RegisterAcceptedConnectionsMonitor(fn AcceptFunc) { s.onAccept = fn }

// Recv is the IPv4 engine's upper-layer contract: called with every TCP
// payload addressed to this host. It implements spec §4.3's demux: a SYN
// always creates a connection, overwriting any existing one for the same
// 4-tuple (spec §9: this is retained as specified, not hardened), and any
// other segment is routed to its existing [Connection] or dropped.
func (s *Server) Recv(srcAddr, dstAddr netip.Addr, segment []byte) {
	f, err := NewFrame(segment)
	if err != nil {
		internal.LogAttrs(s.log, slog.LevelWarn, "tcp: short segment dropped", slog.Int("len", len(segment)))
		return
	}
	if f.DestinationPort() != s.port {
		return
	}

	want := f.Checksum()
	f.SetChecksum(0)
	got := ipv4Checksum(srcAddr.As4(), dstAddr.As4(), f.RawData())
	f.SetChecksum(want)
	if got != want {
		internal.LogAttrs(s.log, slog.LevelWarn, "tcp: bad checksum, segment dropped",
			internal.SlogAddr4("src", srcAddr.As4()))
		return
	}

	id := ConnectionID{PeerAddr: srcAddr, PeerPort: f.SourcePort(), LocalAddr: dstAddr, LocalPort: f.DestinationPort()}
	flags := f.Flags()
	payload := f.Payload()

	if flags.Has(FlagSYN) {
		conn := newConnection(s, id, f.SeqNumber())
		s.connections[id] = conn
		metrics.TCPConnectionsActive.Set(float64(len(s.connections)))
		if s.onAccept != nil {
			s.onAccept(conn)
		}
		return
	}

	conn, ok := s.connections[id]
	if !ok {
		internal.LogAttrs(s.log, slog.LevelDebug, "tcp: segment for unknown connection dropped",
			internal.SlogAddr4("src", srcAddr.As4()), slog.Int("src_port", int(id.PeerPort)))
		return
	}
	conn.recv(f.SeqNumber(), f.AckNumber(), flags, payload)
}

func (s *Server) removeConnection(id ConnectionID) {
	delete(s.connections, id)
	metrics.TCPConnectionsActive.Set(float64(len(s.connections)))
}

// Port returns the server's listening port.
func (s *Server) Port() uint16 { return s.port }

// Lookup returns the active connection for id, if any — mainly useful from
// tests and from the application layer's own bookkeeping.
func (s *Server) Lookup(id ConnectionID) (*Connection, bool) {
	c, ok := s.connections[id]
	return c, ok
}
