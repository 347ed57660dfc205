// Package ipv4 implements the IPv4 host/router engine of spec §4.2: it
// classifies incoming datagrams as host-terminated or router-forwarded,
// decrements TTL, recomputes checksums, performs longest-prefix next-hop
// lookup via a binary [Trie], and emits ICMP Time Exceeded on expiry.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

const (
	sizeHeader = 20
	// Protocol numbers used by this stack. Only these are ever produced, and
	// host delivery accepts only TCP; forwarded datagrams are passed on
	// whatever protocol they carry.
	ProtoICMP = 1
	ProtoTCP  = 6
)

var (
	errShortBuffer = errors.New("ipv4: buffer shorter than header")
	errBadIHL      = errors.New("ipv4: IHL field indicates options, unsupported")
	errBadTotalLen = errors.New("ipv4: total length exceeds buffer")
)

// Frame is a byte-view over a 20-byte (no options, IHL fixed at 5 per
// spec §6) IPv4 header, in the same accessor-method style as the teacher's
// `ipv4.Frame` (`soypat/lneto/ipv4/frame.go`).
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 Frame. An error is returned if buf is
// shorter than the fixed 20-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the frame's underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) ihl() uint8 { return f.buf[0] & 0xf }

// SetVersionAndIHL sets the version/IHL byte. Version is always 4, IHL
// always 5 (no options) in this implementation.
func (f Frame) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

// ToS returns the DSCP/ECN byte, always zero in this stack (spec §6).
func (f Frame) ToS() uint8 { return f.buf[1] }

// SetToS sets the DSCP/ECN byte.
func (f Frame) SetToS(v uint8) { f.buf[1] = v }

// TotalLength is the entire datagram size in bytes, header included.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets TotalLength. See [Frame.TotalLength].
func (f Frame) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// ID is the per-datagram identification field.
func (f Frame) ID() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetID sets the identification field.
func (f Frame) SetID(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }

// FlagsAndFragmentOffset returns the raw flags+offset field, always zero in
// this stack (DF/MF/offset are all zero per spec §6).
func (f Frame) FlagsAndFragmentOffset() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

func (f Frame) SetFlagsAndFragmentOffset(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// TTL is the time-to-live field.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets the TTL field.
func (f Frame) SetTTL(v uint8) { f.buf[8] = v }

// Protocol is the upper-layer protocol number (6=TCP, 1=ICMP here).
func (f Frame) Protocol() uint8 { return f.buf[9] }

// SetProtocol sets the protocol field.
func (f Frame) SetProtocol(v uint8) { f.buf[9] = v }

// Checksum returns the header checksum field.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetChecksum sets the header checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }

// SourceAddr returns a pointer to the 4-byte source address.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer to the 4-byte destination address.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Payload returns the bytes following the fixed 20-byte header, bounded by
// TotalLength.
func (f Frame) Payload() []byte {
	tl := int(f.TotalLength())
	if tl > len(f.buf) {
		tl = len(f.buf)
	}
	if tl < sizeHeader {
		return nil
	}
	return f.buf[sizeHeader:tl]
}

// ValidateSize checks IHL and TotalLength against the actual buffer.
func (f Frame) ValidateSize() error {
	if f.ihl() != 5 {
		return errBadIHL
	}
	tl := f.TotalLength()
	if int(tl) > len(f.buf) || tl < sizeHeader {
		return errBadTotalLen
	}
	return nil
}

// CalculateHeaderChecksum recomputes the header checksum over the 20-byte
// header with the checksum field itself treated as zero, as specified by
// RFC 791 and used in spec §4.2's router path ("zero the checksum field;
// recompute IPv4 header checksum").
func (f Frame) CalculateHeaderChecksum() uint16 {
	var hdr [sizeHeader]byte
	copy(hdr[:], f.buf[:sizeHeader])
	hdr[10], hdr[11] = 0, 0
	return checksum791(hdr[:])
}

func (f Frame) String() string {
	src := netip.AddrFrom4(*f.SourceAddr())
	dst := netip.AddrFrom4(*f.DestinationAddr())
	return fmt.Sprintf("IP proto=%d src=%s dst=%s len=%d ttl=%d id=%d",
		f.Protocol(), src, dst, f.TotalLength(), f.TTL(), f.ID())
}

// buildHeader writes a fresh 20-byte IPv4 header (no options) into buf[:20]
// with a correct checksum, matching `_assemble_ipv4_header` in the original
// `network_layer/ip.py`.
func buildHeader(buf []byte, src, dst [4]byte, id uint16, ttl, protocol uint8, totalLength uint16) Frame {
	f := Frame{buf: buf[:sizeHeader]}
	f.SetVersionAndIHL(4, 5)
	f.SetToS(0)
	f.SetTotalLength(totalLength)
	f.SetID(id)
	f.SetFlagsAndFragmentOffset(0)
	f.SetTTL(ttl)
	f.SetProtocol(protocol)
	f.SetChecksum(0)
	*f.SourceAddr() = src
	*f.DestinationAddr() = dst
	f.SetChecksum(f.CalculateHeaderChecksum())
	return f
}
