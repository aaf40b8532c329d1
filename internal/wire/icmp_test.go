package wire

import (
	"bytes"
	"testing"
)

func TestICMPEchoReplyEncodeParseRoundTrip(t *testing.T) {
	payload := []byte("ping-data")
	buf := make([]byte, icmpHeaderLen+len(payload))
	EncodeICMPEchoReply(buf, 0xABCD, 7, payload)

	hdr, body, err := ParseICMP(buf)
	if err != nil {
		t.Fatalf("ParseICMP: %v", err)
	}
	if hdr.Type != ICMPTypeEchoReply || hdr.Code != 0 {
		t.Fatalf("type/code mismatch: %+v", hdr)
	}
	if hdr.ID != 0xABCD || hdr.Seq != 7 {
		t.Fatalf("id/seq mismatch: %+v", hdr)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch: got %q want %q", body, payload)
	}
	if Sum16(buf)&0xFFFF != 0xFFFF {
		t.Fatalf("ICMP checksum does not self-verify")
	}
}

func TestParseICMPRejectsShort(t *testing.T) {
	if _, _, err := ParseICMP(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for short ICMP header")
	}
}
