package wire

import "encoding/binary"

const udpHeaderLen = 8

// UDPHeader is a decoded UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
}

// ParseUDP decodes the UDP header from l4 and returns the header and the
// datagram payload (aliasing l4).
func ParseUDP(l4 []byte) (UDPHeader, []byte, error) {
	var h UDPHeader
	if len(l4) < udpHeaderLen {
		return h, nil, errShort("UDP", len(l4), udpHeaderLen)
	}
	h.SrcPort = binary.BigEndian.Uint16(l4[0:2])
	h.DstPort = binary.BigEndian.Uint16(l4[2:4])
	length := int(binary.BigEndian.Uint16(l4[4:6]))
	if length < udpHeaderLen || length > len(l4) {
		length = len(l4)
	}
	return h, l4[udpHeaderLen:length], nil
}

// EncodeUDP writes an 8-byte UDP header plus payload into dst (which must be
// at least 8+len(payload) bytes) and fills in the checksum against the given
// IPv4 pseudo-header addresses. Returns the total L4 length written.
func EncodeUDP(dst []byte, src, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) int {
	total := udpHeaderLen + len(payload)
	_ = dst[:total]
	binary.BigEndian.PutUint16(dst[0:2], srcPort)
	binary.BigEndian.PutUint16(dst[2:4], dstPort)
	binary.BigEndian.PutUint16(dst[4:6], uint16(total))
	dst[6], dst[7] = 0, 0
	copy(dst[udpHeaderLen:total], payload)
	cs := UDPChecksum(src, dstIP, dst[:total])
	binary.BigEndian.PutUint16(dst[6:8], cs)
	return total
}
