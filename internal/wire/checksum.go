// Package wire decodes and encodes the IPv4 + UDP/TCP/ICMP headers this
// router needs, and computes the checksums that go with them.
package wire

import "encoding/binary"

// Sum16 computes the RFC 1071 one's-complement checksum over b. Odd-length
// buffers are padded with an implicit zero byte. The caller negates (~sum)
// the result when building a final checksum field; Sum16 itself just folds
// carries and returns the running sum.
func Sum16(b []byte) uint32 {
	var sum uint32
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return sum
}

// Checksum returns the IPv4/ICMP-style one's-complement checksum of b.
func Checksum(b []byte) uint16 {
	return ^uint16(Sum16(b))
}

// pseudoHeaderSum returns the partial (un-folded) sum of the 12-byte IPv4
// pseudo-header used by TCP and UDP checksums: src IP, dst IP, a zero byte,
// protocol, and L4 length.
func pseudoHeaderSum(src, dst [4]byte, proto uint8, l4Len int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(src[0:2]))
	sum += uint32(binary.BigEndian.Uint16(src[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dst[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dst[2:4]))
	sum += uint32(proto)
	sum += uint32(l4Len)
	return sum
}

// L4Checksum computes the TCP/UDP checksum of l4 (header + payload, with the
// checksum field itself zeroed) prefixed by the IPv4 pseudo-header.
func L4Checksum(src, dst [4]byte, proto uint8, l4 []byte) uint16 {
	sum := pseudoHeaderSum(src, dst, proto, len(l4))
	sum += Sum16(l4)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// UDPChecksum is L4Checksum with the wire-format rule that a computed value
// of 0x0000 is rewritten to 0xFFFF, since 0 means "no checksum" on the wire.
func UDPChecksum(src, dst [4]byte, l4 []byte) uint16 {
	c := L4Checksum(src, dst, ProtoUDP, l4)
	if c == 0 {
		return 0xFFFF
	}
	return c
}
