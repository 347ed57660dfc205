package ipv4

import (
	"encoding/binary"
	"log/slog"
	"net/netip"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/metrics"
)

// LowerLayer is the single `send(payload, target_hint)` contract spec §2
// describes between adjacent layers: the SLIP framer, from the IPv4
// engine's point of view.
type LowerLayer interface {
	Send(datagram []byte, nextHop netip.Addr) error
}

// Receiver is called with each TCP payload destined for this host,
// matching spec §4.2's host path: `self.callback(src_addr, dst_addr, payload)`.
type Receiver func(src, dst netip.Addr, payload []byte)

// Route is one entry of the routing table configured via [Engine.SetRoutingTable].
type Route struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
}

// Engine is the IPv4 host/router state described in spec §3 ("IPv4 Engine
// State"): my_address, routing_trie, and a wrapping identification counter.
type Engine struct {
	myAddress      netip.Addr
	trie           Trie
	identification uint16

	lower LowerLayer
	upper Receiver
	log   *slog.Logger
}

// NewEngine constructs an Engine bound to lower, the layer below (SLIP).
func NewEngine(myAddress netip.Addr, lower LowerLayer, log *slog.Logger) *Engine {
	return &Engine{myAddress: myAddress, lower: lower, log: log}
}

// SetRoutingTable installs the routing table, replacing any previous one.
// Per spec §3 the trie is immutable after configuration: call this once
// before traffic starts flowing.
func (e *Engine) SetRoutingTable(routes []Route) {
	e.trie = Trie{}
	for _, r := range routes {
		e.trie.Insert(r.Prefix, r.NextHop)
	}
}

// RegisterReceiver registers the function called with each TCP payload
// addressed to this host.
func (e *Engine) RegisterReceiver(fn Receiver) { e.upper = fn }

// nextHop performs the longest-prefix-match lookup of spec §4.2.
func (e *Engine) nextHop(dst netip.Addr) (netip.Addr, bool) {
	return e.trie.Find(dst)
}

// Recv implements the SLIP layer's upper-layer contract: it is called with
// each decoded datagram and implements the host/router dispatch of spec
// §4.2.
func (e *Engine) Recv(datagram []byte) {
	f, err := NewFrame(datagram)
	if err != nil {
		internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: short datagram dropped", slog.Int("len", len(datagram)))
		return
	}
	if err := f.ValidateSize(); err != nil {
		internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: malformed datagram dropped", slog.String("err", err.Error()))
		return
	}

	dst := netip.AddrFrom4(*f.DestinationAddr())
	if dst == e.myAddress {
		e.deliverToHost(f)
		return
	}
	e.forward(f)
}

func (e *Engine) deliverToHost(f Frame) {
	if f.Protocol() != ProtoTCP || e.upper == nil {
		return
	}
	metrics.IPv4HostDelivered.Inc()
	src := netip.AddrFrom4(*f.SourceAddr())
	dst := netip.AddrFrom4(*f.DestinationAddr())
	e.upper(src, dst, f.Payload())
}

// forward implements spec §4.2's router path, including ICMP Time Exceeded
// generation on TTL expiry.
func (e *Engine) forward(f Frame) {
	ttl := f.TTL()
	newTTL := int(ttl) - 1
	src := *f.SourceAddr()
	dst := netip.AddrFrom4(*f.DestinationAddr())

	if newTTL > 0 {
		f.SetTTL(uint8(newTTL))
		f.SetChecksum(0)
		f.SetChecksum(f.CalculateHeaderChecksum())
		nextHop, ok := e.nextHop(dst)
		if !ok {
			internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: no route, dropping forwarded datagram",
				internal.SlogAddr4("dst", dst.As4()))
			return
		}
		if err := e.lower.Send(f.RawData(), nextHop); err != nil {
			internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: forward send failed", slog.String("err", err.Error()))
		}
		metrics.IPv4Forwarded.Inc()
		return
	}

	metrics.IPv4TTLExpired.Inc()
	e.sendTimeExceeded(f, src)
}

// sendTimeExceeded builds and sends the ICMP Time Exceeded message
// described in spec §4.2: type=11 code=0 rest=0, payload = original IP
// header plus its first 8 bytes of payload, wrapped in a fresh IPv4
// header (TTL=64, protocol=ICMP) addressed back to the original source.
func (e *Engine) sendTimeExceeded(orig Frame, origSrc [4]byte) {
	headerLen := sizeHeader
	payload := orig.RawData()
	n := headerLen + 8
	if n > len(payload) {
		n = len(payload)
	}
	echoed := payload[:n]

	icmp := make([]byte, 8+len(echoed))
	icmp[0] = 11 // type: Time Exceeded
	icmp[1] = 0  // code
	icmp[2], icmp[3] = 0, 0
	icmp[4], icmp[5], icmp[6], icmp[7] = 0, 0, 0, 0
	copy(icmp[8:], echoed)
	binary.BigEndian.PutUint16(icmp[2:4], checksum791(icmp))

	origSrcAddr := netip.AddrFrom4(origSrc)
	nextHop, ok := e.nextHop(origSrcAddr)
	if !ok {
		internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: no route for ICMP time exceeded",
			internal.SlogAddr4("dst", origSrc))
		return
	}

	id := e.nextIdentification()
	datagram := make([]byte, sizeHeader+len(icmp))
	buildHeader(datagram, e.myAddress.As4(), origSrc, id, 64, ProtoICMP, uint16(len(datagram)))
	copy(datagram[sizeHeader:], icmp)

	if err := e.lower.Send(datagram, nextHop); err != nil {
		internal.LogAttrs(e.log, slog.LevelWarn, "ipv4: sending ICMP time exceeded failed", slog.String("err", err.Error()))
	}
}

// Send implements the transmit path of spec §4.2: the TCP engine asks the
// IPv4 engine to send a ready-made segment to dest. A fresh header is
// built with a fresh identification (post-increment, 16-bit wraparound),
// TTL=64, protocol=TCP.
func (e *Engine) Send(segment []byte, dest netip.Addr) error {
	nextHop, ok := e.nextHop(dest)
	if !ok {
		return errNoRoute
	}
	id := e.nextIdentification()
	destBytes := dest.As4()
	datagram := make([]byte, sizeHeader+len(segment))
	buildHeader(datagram, e.myAddress.As4(), destBytes, id, 64, ProtoTCP, uint16(len(datagram)))
	copy(datagram[sizeHeader:], segment)
	return e.lower.Send(datagram, nextHop)
}

func (e *Engine) nextIdentification() uint16 {
	id := e.identification
	e.identification++ // wraps naturally at 2^16, per spec §4.2.
	return id
}

// MyAddress returns the engine's configured host address.
func (e *Engine) MyAddress() netip.Addr { return e.myAddress }
