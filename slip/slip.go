// Package slip implements the SLIP (RFC 1055) framer described in spec
// §4.1: it turns a byte-oriented serial line into a datagram-oriented
// link, one [Link] per remote endpoint, multiplexed by [Framer].
package slip

import (
	"log/slog"
	"net/netip"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/metrics"
	"github.com/pty-net/slipstack/serial"
)

const (
	frameEnd       byte = 0xC0 // END
	frameEsc       byte = 0xDB // ESC
	frameEscEnd    byte = 0xDC // ESC_END, substituted for END inside a frame
	frameEscEsc    byte = 0xDD // ESC_ESC, substituted for ESC inside a frame
	maxFrameLength      = 65535
)

// decodeState is the three-state decoder described in spec §4.1 and
// data-modeled in spec §3 ("SLIP Link... a three-state decoder
// {IDLE, READING, ESCAPE}").
type decodeState uint8

const (
	stateIdle decodeState = iota
	stateReading
	stateEscape
)

// Receiver is called with each whole datagram decoded off a link, in
// arrival order.
type Receiver func(datagram []byte)

// Encode appends the SLIP encoding of datagram to dst and returns the
// extended slice. Per spec §4.1, empty datagrams must not be emitted: if
// datagram is empty, dst is returned unchanged.
func Encode(dst, datagram []byte) []byte {
	if len(datagram) == 0 {
		return dst
	}
	dst = append(dst, frameEnd)
	for _, b := range datagram {
		switch b {
		case frameEnd:
			dst = append(dst, frameEsc, frameEscEnd)
		case frameEsc:
			dst = append(dst, frameEsc, frameEscEsc)
		default:
			dst = append(dst, b)
		}
	}
	dst = append(dst, frameEnd)
	return dst
}

// Link is one SLIP endpoint over a single [serial.Line], holding the
// accumulating frame buffer and decoder state described in spec §3. A Link
// is owned by a [Framer] and lives for the process.
type Link struct {
	peer  netip.Addr
	line  serial.Line
	state decodeState
	buf   []byte

	framer *Framer
	log    *slog.Logger
}

func newLink(framer *Framer, peer netip.Addr, line serial.Line, log *slog.Logger) *Link {
	l := &Link{peer: peer, line: line, framer: framer, log: log}
	line.RegisterReceiver(l.rawRecv)
	return l
}

// Send encodes datagram and writes it to the underlying serial line.
func (l *Link) Send(datagram []byte) error {
	frame := Encode(make([]byte, 0, len(datagram)+2), datagram)
	if len(frame) == 0 {
		return nil
	}
	metrics.SLIPFramesEncoded.Inc()
	return l.line.Send(frame)
}

// rawRecv implements the decode state machine of spec §4.1 byte by byte.
// Empty data (nil/zero-length) signals the line has closed; any
// in-progress frame is discarded, matching spec §7's "Serial EIO ...
// frame in progress discarded".
func (l *Link) rawRecv(data []byte) {
	if len(data) == 0 {
		if len(l.buf) > 0 {
			metrics.SLIPFramesDropped.WithLabelValues("eof_partial_frame").Inc()
		}
		l.state = stateIdle
		l.buf = l.buf[:0]
		return
	}
	for _, b := range data {
		switch l.state {
		case stateIdle:
			switch b {
			case frameEsc:
				l.state = stateEscape
			case frameEnd:
				l.state = stateReading
			default:
				l.buf = append(l.buf, b)
				l.state = stateReading
			}
		case stateReading:
			switch b {
			case frameEnd:
				if len(l.buf) > 0 {
					frame := append([]byte(nil), l.buf...)
					l.buf = l.buf[:0]
					l.state = stateIdle
					l.deliverIsolated(frame)
					continue
				}
				l.buf = l.buf[:0]
				l.state = stateIdle
			case frameEsc:
				l.state = stateEscape
			default:
				if len(l.buf) < maxFrameLength {
					l.buf = append(l.buf, b)
				}
			}
		case stateEscape:
			switch b {
			case frameEscEnd:
				l.buf = append(l.buf, frameEnd)
			case frameEscEsc:
				l.buf = append(l.buf, frameEsc)
			}
			// Any other escaped byte is silently discarded (not appended),
			// per spec §4.1's "implementation may choose strict" note.
			l.state = stateReading
		}
	}
}

// deliverIsolated hands a complete frame to the Framer's registered
// receiver, isolating the decoder from a panicking callback exactly as
// spec §4.1 and §7 require ("log and continue").
func (l *Link) deliverIsolated(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			internal.LogAttrs(l.log, slog.LevelError, "slip: recovered panic delivering frame",
				slog.Any("panic", r))
		}
	}()
	metrics.SLIPFramesDecoded.Inc()
	l.framer.deliver(frame)
}

// Framer multiplexes one or more [Link]s, each tied to a distinct peer
// IPv4 address, exactly as the original `SLIP` class's `serial_lines`
// mapping does.
type Framer struct {
	links map[netip.Addr]*Link
	upper Receiver
	log   *slog.Logger
}

// NewFramer constructs an empty Framer.
func NewFramer(log *slog.Logger) *Framer {
	return &Framer{links: make(map[netip.Addr]*Link), log: log}
}

// RegisterReceiver registers the function called with each datagram
// decoded from any link.
func (f *Framer) RegisterReceiver(fn Receiver) { f.upper = fn }

// AddLink attaches a new serial line reaching peer.
func (f *Framer) AddLink(peer netip.Addr, line serial.Line) *Link {
	l := newLink(f, peer, line, f.log)
	f.links[peer] = l
	return l
}

// Send routes datagram to whichever link reaches nextHop. Returns
// [ErrNoRoute] if no link has been configured for that address.
func (f *Framer) Send(datagram []byte, nextHop netip.Addr) error {
	l, ok := f.links[nextHop]
	if !ok {
		return ErrNoRoute
	}
	return l.Send(datagram)
}

func (f *Framer) deliver(datagram []byte) {
	if f.upper != nil {
		f.upper(datagram)
	}
}
