package tcp

import (
	"encoding/binary"
	"errors"
)

var errShortSegment = errors.New("tcp: buffer shorter than header")

// Frame is a byte-view over a 20-byte (no options) TCP segment header, in
// the same accessor style as `ipv4.Frame` and the teacher's `tcp.Frame`
// (`soypat/lneto/tcp/frame.go`).
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP Frame.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortSegment
	}
	return Frame{buf: buf}, nil
}

func (f Frame) RawData() []byte { return f.buf }

func (f Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

func (f Frame) SetSourcePort(v uint16) { binary.BigEndian.PutUint16(f.buf[0:2], v) }

func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

func (f Frame) SetDestinationPort(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

func (f Frame) SeqNumber() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

func (f Frame) SetSeqNumber(v uint32) { binary.BigEndian.PutUint32(f.buf[4:8], v) }

func (f Frame) AckNumber() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

func (f Frame) SetAckNumber(v uint32) { binary.BigEndian.PutUint32(f.buf[8:12], v) }

// DataOffset is the header length in 32-bit words; always 5 here (no
// options, per spec §1 Non-goals).
func (f Frame) DataOffset() uint8 { return f.buf[12] >> 4 }

func (f Frame) SetDataOffset(words uint8) { f.buf[12] = words<<4 | (f.buf[12] & 0xf) }

func (f Frame) Flags() Flags { return Flags(f.buf[13]) }

func (f Frame) SetFlags(v Flags) { f.buf[13] = uint8(v) }

func (f Frame) Window() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

func (f Frame) SetWindow(v uint16) { binary.BigEndian.PutUint16(f.buf[14:16], v) }

func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[16:18], v) }

func (f Frame) UrgentPointer() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

func (f Frame) SetUrgentPointer(v uint16) { binary.BigEndian.PutUint16(f.buf[18:20], v) }

// Payload returns everything past the fixed 20-byte header.
func (f Frame) Payload() []byte { return f.buf[sizeHeader:] }

// buildSegment writes a fresh 20-byte header plus payload into a new
// buffer, mirroring `_make_header`/segment assembly in the original
// `transport_layer/tcp.py` and `utils/tcp.py`.
func buildSegment(srcPort, dstPort uint16, seq, ack uint32, flags Flags, window uint16, payload []byte) []byte {
	buf := make([]byte, sizeHeader+len(payload))
	f := Frame{buf: buf}
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	f.SetSeqNumber(seq)
	f.SetAckNumber(ack)
	f.SetDataOffset(5)
	f.SetFlags(flags)
	f.SetWindow(window)
	f.SetUrgentPointer(0)
	copy(buf[sizeHeader:], payload)
	return buf
}
