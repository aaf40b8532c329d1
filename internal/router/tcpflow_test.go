package router

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestRouterForTCP(t *testing.T) *Router {
	t.Helper()
	_, tunEnd := net.Pipe()
	r := New(tunEnd, Config{
		TunAddress:       [4]byte{10, 0, 0, 2},
		ReassemblyMaxLen: 64 * 1024,
		Clock:            clockwork.NewRealClock(),
	}, nil)
	// forwardOrQueueLocked defers native-socket writes to the outbound
	// drainer's release-time gate; start it so forwarded payloads actually
	// reach the native socket these tests assert against.
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func newEstablishedSession(t *testing.T, r *Router) (*TcpSession, net.Conn) {
	t.Helper()
	nativeAppEnd, nativeRouterEnd := net.Pipe()
	sess := &TcpSession{
		state:       tcpEstablished,
		ours:        1000,
		theirs:      2001, // client's initial seq was 2000, SYN consumed one
		conn:        nativeRouterEnd,
		connected:   true,
		oooMaxBytes: 64 * 1024,
	}
	t.Cleanup(func() { nativeAppEnd.Close() })
	return sess, nativeAppEnd
}

// readExactly drains n bytes from conn with a short deadline, failing the
// test on timeout or error.
func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func TestDuplicateSegmentForwardedOnce(t *testing.T) {
	r := newTestRouterForTCP(t)
	key := FlowKey{Proto: 6, SrcAddr: [4]byte{10, 0, 0, 2}, SrcPort: 1, DstAddr: [4]byte{1, 1, 1, 1}, DstPort: 80}
	sess, appEnd := newEstablishedSession(t, r)

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	sess.mu.Lock()
	r.handleTCPPayloadLocked(sess, key, 2001, data)
	sess.mu.Unlock()

	got := readExactly(t, appEnd, 100)
	if string(got) != string(data) {
		t.Fatalf("first delivery mismatch")
	}

	sess.mu.Lock()
	theirsAfterFirst := sess.theirs
	r.handleTCPPayloadLocked(sess, key, 2001, data) // duplicate retransmit
	theirsAfterDup := sess.theirs
	sess.mu.Unlock()

	if theirsAfterFirst != theirsAfterDup {
		t.Fatalf("duplicate segment should not advance theirs: before=%d after=%d", theirsAfterFirst, theirsAfterDup)
	}

	appEnd.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	extra := make([]byte, 1)
	if _, err := appEnd.Read(extra); err == nil {
		t.Fatalf("duplicate segment should not have been forwarded to the native socket")
	}
}

func TestOutOfOrderSegmentsReassembleInOrder(t *testing.T) {
	r := newTestRouterForTCP(t)
	key := FlowKey{Proto: 6, SrcAddr: [4]byte{10, 0, 0, 2}, SrcPort: 1, DstAddr: [4]byte{1, 1, 1, 1}, DstPort: 80}
	sess, appEnd := newEstablishedSession(t, r)
	sess.theirs = 2001 // X+1

	a := make([]byte, 100)
	c := make([]byte, 50)
	b := make([]byte, 100)
	for i := range a {
		a[i] = 'A'
	}
	for i := range b {
		b[i] = 'B'
	}
	for i := range c {
		c[i] = 'C'
	}

	// Segments arrive A, C, B (out of order); C and B are buffered/applied
	// as gaps close.
	sess.mu.Lock()
	r.handleTCPPayloadLocked(sess, key, 2001, a) // seq = X+1
	r.handleTCPPayloadLocked(sess, key, 2201, c) // seq = X+201, gap before this
	r.handleTCPPayloadLocked(sess, key, 2101, b) // seq = X+101, fills the gap
	finalTheirs := sess.theirs
	sess.mu.Unlock()

	want := append(append(append([]byte{}, a...), b...), c...)
	got := readExactly(t, appEnd, len(want))
	if string(got) != string(want) {
		t.Fatalf("reassembled stream mismatch")
	}
	if finalTheirs != 2001+uint32(len(want)) {
		t.Fatalf("expected theirs to advance past all three segments, got %d", finalTheirs)
	}
}

func TestSequenceGapTooLargeIsDropped(t *testing.T) {
	r := newTestRouterForTCP(t)
	key := FlowKey{Proto: 6, DstPort: 80}
	sess, appEnd := newEstablishedSession(t, r)
	sess.theirs = 1000

	huge := make([]byte, 10)
	sess.mu.Lock()
	r.handleTCPPayloadLocked(sess, key, 1000+70000, huge) // gap > 65535
	bufferedBytes := sess.oooBytes
	sess.mu.Unlock()

	if bufferedBytes != 0 {
		t.Fatalf("expected the oversized gap segment to be dropped, buffered %d bytes", bufferedBytes)
	}
	appEnd.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	b := make([]byte, 1)
	if _, err := appEnd.Read(b); err == nil {
		t.Fatalf("oversized-gap segment should never reach the native socket")
	}
}

func TestNativeSocketErrorDoesNotSynthesizeFIN(t *testing.T) {
	tunClient, tunRouter := net.Pipe()
	defer tunClient.Close()

	r := New(tunRouter, Config{
		TunAddress:       [4]byte{10, 0, 0, 2},
		ReassemblyMaxLen: 64 * 1024,
		Clock:            clockwork.NewRealClock(),
	}, nil)
	r.Start()
	defer r.Stop()

	// Closing the router's own end of a net.Pipe makes its reads fail with
	// io.ErrClosedPipe, a stand-in for a native socket reset or I/O error —
	// distinct from the io.EOF that closing the far end (an orderly close)
	// would produce.
	appEnd, routerEnd := net.Pipe()
	defer appEnd.Close()
	routerEnd.Close()

	key := FlowKey{Proto: 6, SrcAddr: [4]byte{10, 0, 0, 2}, SrcPort: 1, DstAddr: [4]byte{1, 1, 1, 1}, DstPort: 80}
	sess := &TcpSession{
		state:       tcpEstablished,
		ours:        1000,
		theirs:      2001,
		conn:        routerEnd,
		connected:   true,
		oooMaxBytes: 64 * 1024,
	}
	r.sessions.insertTCP(key, sess)

	r.wg.Add(1)
	go r.readTCPReplies(key, sess)

	tunClient.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := tunClient.Read(buf); err == nil {
		t.Fatalf("a native socket error must not synthesize a FIN segment upstream")
	}

	if _, ok := r.sessions.getTCP(key); ok {
		t.Fatalf("session should have been removed after the native socket error")
	}
}
