package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17

	ipv4MinHeaderLen = 20
	ipv4Version      = 4
	DefaultTTL       = 64
)

// IPv4Header is a decoded IPv4 header. Options are skipped, not retained.
type IPv4Header struct {
	IHL      int // header length in bytes
	TotalLen int
	Proto    uint8
	TTL      uint8
	ID       uint16
	Src      [4]byte
	Dst      [4]byte
}

// ParseIPv4 decodes the header of b and returns the header, the L4 payload
// (aliasing b), and an error for anything malformed. IPv6 and anything that
// doesn't parse as a well-formed IPv4 header is reported as an error so the
// caller can count it as UnsupportedProtocol/MalformedPacket and drop it.
func ParseIPv4(b []byte) (IPv4Header, []byte, error) {
	var h IPv4Header
	if len(b) < ipv4MinHeaderLen {
		return h, nil, fmt.Errorf("wire: short IPv4 header (%d bytes)", len(b))
	}
	ver := b[0] >> 4
	if ver != ipv4Version {
		return h, nil, fmt.Errorf("wire: not IPv4 (version=%d)", ver)
	}
	ihl := int(b[0]&0x0F) * 4
	if ihl < ipv4MinHeaderLen || ihl > len(b) {
		return h, nil, fmt.Errorf("wire: bad IHL=%d", ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen < ihl || totalLen > len(b) {
		// Tolerate a tun frame that's longer than TotalLen claims (trailing
		// padding); never tolerate one shorter than the header says.
		if totalLen < ihl {
			return h, nil, fmt.Errorf("wire: bad total length=%d ihl=%d", totalLen, ihl)
		}
		totalLen = len(b)
	}
	h.IHL = ihl
	h.TotalLen = totalLen
	h.ID = binary.BigEndian.Uint16(b[4:6])
	h.Proto = b[9]
	h.TTL = b[8]
	copy(h.Src[:], b[12:16])
	copy(h.Dst[:], b[16:20])
	return h, b[ihl:totalLen], nil
}

// EncodeIPv4 writes a fresh IHL=5 (no options) IPv4 header for a payload of
// length payloadLen into dst (which must be at least 20 bytes), filling in a
// valid header checksum. It returns the number of header bytes written (20).
func EncodeIPv4(dst []byte, src, dstIP [4]byte, proto uint8, id uint16, ttl uint8, payloadLen int) int {
	_ = dst[:ipv4MinHeaderLen] // bounds check hint
	dst[0] = (ipv4Version << 4) | (ipv4MinHeaderLen / 4)
	dst[1] = 0 // DSCP/ECN
	binary.BigEndian.PutUint16(dst[2:4], uint16(ipv4MinHeaderLen+payloadLen))
	binary.BigEndian.PutUint16(dst[4:6], id)
	binary.BigEndian.PutUint16(dst[6:8], 0x4000) // DF, no fragmentation offset
	dst[8] = ttl
	dst[9] = proto
	dst[10], dst[11] = 0, 0 // checksum, filled below
	copy(dst[12:16], src[:])
	copy(dst[16:20], dstIP[:])
	cs := Checksum(dst[:ipv4MinHeaderLen])
	binary.BigEndian.PutUint16(dst[10:12], cs)
	return ipv4MinHeaderLen
}

// VerifyIPv4HeaderChecksum reports whether hdr (the 20-byte wire header,
// checksum field included) is internally consistent: the folded sum of the
// header with its own checksum field in place must be 0xFFFF (its
// complement is zero).
func VerifyIPv4HeaderChecksum(hdr []byte) bool {
	if len(hdr) < ipv4MinHeaderLen {
		return false
	}
	return Sum16(hdr[:ipv4MinHeaderLen])&0xFFFF == 0xFFFF
}
