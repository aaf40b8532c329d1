package wire

import "testing"

func TestChecksumZeroOnRoundTrip(t *testing.T) {
	hdr := make([]byte, ipv4MinHeaderLen)
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}
	EncodeIPv4(hdr, src, dst, ProtoUDP, 1234, DefaultTTL, 0)
	if !VerifyIPv4HeaderChecksum(hdr) {
		t.Fatalf("header checksum does not self-verify: %x", hdr)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	hdr := make([]byte, ipv4MinHeaderLen)
	EncodeIPv4(hdr, [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, ProtoTCP, 1, DefaultTTL, 0)
	hdr[8] ^= 0xFF // flip TTL
	if VerifyIPv4HeaderChecksum(hdr) {
		t.Fatalf("corrupted header should not self-verify")
	}
}

func TestUDPChecksumRoundTrip(t *testing.T) {
	src := [4]byte{192, 168, 1, 1}
	dst := [4]byte{192, 168, 1, 2}
	payload := []byte("hello world")
	buf := make([]byte, udpHeaderLen+len(payload))
	EncodeUDP(buf, src, dst, 1111, 2222, payload)

	sum := pseudoHeaderSum(src, dst, ProtoUDP, len(buf))
	sum += Sum16(buf)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	if uint16(sum) != 0xFFFF {
		t.Fatalf("UDP checksum does not fold to all-ones: sum=%x", sum)
	}
}

func TestUDPChecksumNeverZeroOnWire(t *testing.T) {
	// With zero addresses the pseudo-header sums to 17+8 = 0x0019; a source
	// port of 0xFFE6 brings the total to 0xFFFF, whose complement is 0x0000,
	// so the rewrite rule must turn it into 0xFFFF.
	l4 := make([]byte, udpHeaderLen)
	l4[0], l4[1] = 0xFF, 0xE6
	if got := UDPChecksum([4]byte{}, [4]byte{}, l4); got != 0xFFFF {
		t.Fatalf("UDP checksum must never be transmitted as 0x0000, got %#04x want 0xffff", got)
	}
}
