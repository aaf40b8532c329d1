package router

import (
	"fmt"

	"dtcsim/internal/wire"
)

// handleICMP answers an ICMP echo-request with a freshly built echo-reply
// frame, source and destination swapped and both checksums computed, and
// submits the reply to the
// inbound shaper. It never touches the network. Any other ICMP type is
// dropped with a log line.
func (r *Router) handleICMP(ipHdr wire.IPv4Header, l4 []byte) {
	icmpHdr, payload, err := wire.ParseICMP(l4)
	if err != nil {
		r.logDrop("malformed ICMP packet", err)
		return
	}
	if icmpHdr.Type != wire.ICMPTypeEchoRequest {
		r.logDrop("unsupported ICMP type", fmt.Errorf("type=%d", icmpHdr.Type))
		return
	}

	frame := make([]byte, 20+8+len(payload))
	ipLen := wire.EncodeIPv4(frame, ipHdr.Dst, ipHdr.Src, wire.ProtoICMP, r.nextIPID(), wire.DefaultTTL, 8+len(payload))
	wire.EncodeICMPEchoReply(frame[ipLen:], icmpHdr.ID, icmpHdr.Seq, payload)
	r.submitInbound(frame)
}
