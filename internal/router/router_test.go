package router

import (
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"dtcsim/internal/wire"
)

func newTestRouter(t *testing.T, tun TunIO, tunAddr [4]byte) *Router {
	t.Helper()
	r := New(tun, Config{
		TunAddress:       tunAddr,
		MTU:              1500,
		UDPIdleTimeout:   5 * time.Minute,
		TCPIdleTimeout:   10 * time.Minute,
		SweepInterval:    time.Hour,
		ReassemblyMaxLen: 64 * 1024,
		TCPRejectPorts:   []int{853},
		Clock:            clockwork.NewRealClock(),
	}, nil)
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func TestICMPEchoReplySynthesis(t *testing.T) {
	clientEnd, routerEnd := net.Pipe()
	defer clientEnd.Close()

	tunAddr := [4]byte{10, 0, 0, 2}
	peerAddr := [4]byte{1, 1, 1, 1}
	newTestRouter(t, routerEnd, tunAddr)

	payload := []byte("ping-payload")
	icmpBuf := make([]byte, 8+len(payload))
	icmpBuf[0] = wire.ICMPTypeEchoRequest // type
	icmpBuf[1] = 0                        // code
	copy(icmpBuf[8:], payload)
	cs := wire.Checksum(icmpBuf)
	icmpBuf[2] = byte(cs >> 8)
	icmpBuf[3] = byte(cs)

	frame := make([]byte, 20+len(icmpBuf))
	wire.EncodeIPv4(frame, tunAddr, peerAddr, wire.ProtoICMP, 1, 64, len(icmpBuf))
	copy(frame[20:], icmpBuf)

	clientEnd.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := clientEnd.Write(frame); err != nil {
		t.Fatalf("write outbound frame: %v", err)
	}

	reply := make([]byte, 1500)
	n, err := clientEnd.Read(reply)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply = reply[:n]

	hdr, l4, err := wire.ParseIPv4(reply)
	if err != nil {
		t.Fatalf("parse reply IPv4: %v", err)
	}
	if hdr.Src != peerAddr || hdr.Dst != tunAddr {
		t.Fatalf("expected swapped addresses, got src=%v dst=%v", hdr.Src, hdr.Dst)
	}
	icmpHdr, body, err := wire.ParseICMP(l4)
	if err != nil {
		t.Fatalf("parse reply ICMP: %v", err)
	}
	if icmpHdr.Type != wire.ICMPTypeEchoReply {
		t.Fatalf("expected echo reply type, got %d", icmpHdr.Type)
	}
	if string(body) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", body, payload)
	}
}

func TestRejectsFrameWithForeignSourceAddress(t *testing.T) {
	clientEnd, routerEnd := net.Pipe()
	defer clientEnd.Close()

	tunAddr := [4]byte{10, 0, 0, 2}
	foreignAddr := [4]byte{10, 0, 0, 99}
	r := newTestRouter(t, routerEnd, tunAddr)

	frame := make([]byte, 20+8)
	wire.EncodeIPv4(frame, foreignAddr, [4]byte{1, 1, 1, 1}, wire.ProtoICMP, 1, 64, 8)

	clientEnd.SetDeadline(time.Now().Add(1 * time.Second))
	clientEnd.Write(frame)
	time.Sleep(50 * time.Millisecond)

	if got := r.Stats().TotalDropped; got == 0 {
		t.Fatalf("expected the foreign-source frame to be counted as dropped")
	}
}
