package wire

import "encoding/binary"

const icmpHeaderLen = 8

const (
	ICMPTypeEchoReply   uint8 = 0
	ICMPTypeEchoRequest uint8 = 8
)

// ICMPHeader is a decoded ICMP echo header (type 8/0 only; anything else is
// reported through the Type field for the caller to reject).
type ICMPHeader struct {
	Type     uint8
	Code     uint8
	ID       uint16
	Seq      uint16
}

// ParseICMP decodes an ICMP echo request/reply header from l4 and returns
// the header and the echoed payload (aliasing l4).
func ParseICMP(l4 []byte) (ICMPHeader, []byte, error) {
	var h ICMPHeader
	if len(l4) < icmpHeaderLen {
		return h, nil, errShort("ICMP", len(l4), icmpHeaderLen)
	}
	h.Type = l4[0]
	h.Code = l4[1]
	h.ID = binary.BigEndian.Uint16(l4[4:6])
	h.Seq = binary.BigEndian.Uint16(l4[6:8])
	return h, l4[icmpHeaderLen:], nil
}

// EncodeICMPEchoReply writes an echo-reply header (type 0, code 0) carrying
// id/seq and the echoed payload into dst, with the ICMP checksum filled in.
// ICMP has no pseudo-header; the checksum covers only the ICMP message
// itself. Returns the total L4 length written.
func EncodeICMPEchoReply(dst []byte, id, seq uint16, payload []byte) int {
	total := icmpHeaderLen + len(payload)
	_ = dst[:total]
	dst[0] = ICMPTypeEchoReply
	dst[1] = 0
	dst[2], dst[3] = 0, 0 // checksum, filled below
	binary.BigEndian.PutUint16(dst[4:6], id)
	binary.BigEndian.PutUint16(dst[6:8], seq)
	copy(dst[icmpHeaderLen:total], payload)
	cs := Checksum(dst[:total])
	binary.BigEndian.PutUint16(dst[2:4], cs)
	return total
}
