package wire

import "encoding/binary"

const tcpMinHeaderLen = 20

// TCP flag bits, as they sit in the low byte of the offset/flags word.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// TCPHeader is a decoded TCP header.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Window  uint16
}

func (h TCPHeader) Has(flag uint8) bool { return h.Flags&flag != 0 }

// ParseTCP decodes the TCP header from l4 (options are skipped, not
// retained) and returns the header and the segment payload (aliasing l4).
func ParseTCP(l4 []byte) (TCPHeader, []byte, error) {
	var h TCPHeader
	if len(l4) < tcpMinHeaderLen {
		return h, nil, errShort("TCP", len(l4), tcpMinHeaderLen)
	}
	h.SrcPort = binary.BigEndian.Uint16(l4[0:2])
	h.DstPort = binary.BigEndian.Uint16(l4[2:4])
	h.Seq = binary.BigEndian.Uint32(l4[4:8])
	h.Ack = binary.BigEndian.Uint32(l4[8:12])
	dataOff := int(l4[12]>>4) * 4
	h.Flags = l4[13]
	h.Window = binary.BigEndian.Uint16(l4[14:16])
	if dataOff < tcpMinHeaderLen || dataOff > len(l4) {
		return h, nil, errShort("TCP", len(l4), dataOff)
	}
	return h, l4[dataOff:], nil
}

// TCPSegment describes a segment this router synthesises onto tun.
type TCPSegment struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            uint8
	Window           uint16
	Payload          []byte
}

// EncodeTCP writes a 20-byte (no options) TCP header plus payload into dst
// and fills in the checksum against the given IPv4 pseudo-header addresses.
// Returns the total L4 length written.
func EncodeTCP(dst []byte, src, dstIP [4]byte, seg TCPSegment) int {
	total := tcpMinHeaderLen + len(seg.Payload)
	_ = dst[:total]
	binary.BigEndian.PutUint16(dst[0:2], seg.SrcPort)
	binary.BigEndian.PutUint16(dst[2:4], seg.DstPort)
	binary.BigEndian.PutUint32(dst[4:8], seg.Seq)
	binary.BigEndian.PutUint32(dst[8:12], seg.Ack)
	dst[12] = byte(tcpMinHeaderLen/4) << 4
	dst[13] = seg.Flags
	window := seg.Window
	if window == 0 {
		window = 65535
	}
	binary.BigEndian.PutUint16(dst[14:16], window)
	dst[16], dst[17] = 0, 0 // checksum, filled below
	binary.BigEndian.PutUint16(dst[18:20], 0)
	copy(dst[tcpMinHeaderLen:total], seg.Payload)
	cs := L4Checksum(src, dstIP, ProtoTCP, dst[:total])
	binary.BigEndian.PutUint16(dst[16:18], cs)
	return total
}

// SeqDiff returns the signed difference a-b on 32-bit sequence space,
// matching the RFC 1323 modular-arithmetic convention: positive means a is
// ahead of b, negative means a is behind b. This is the explicit i32 cast
// the spec calls for in place of relying on implementation-defined integer
// wraparound.
func SeqDiff(a, b uint32) int32 {
	return int32(a - b)
}
