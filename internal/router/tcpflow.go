package router

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"dtcsim/internal/wire"
)

type tcpState int

const (
	tcpSynReceived tcpState = iota
	tcpEstablished
	tcpClosed
)

const tcpMSS = 1400

// oooSegment is one buffered out-of-order TCP segment, kept sorted by seq.
type oooSegment struct {
	seq  uint32
	data []byte
}

// TcpSession is one pseudo-TCP flow: the router plays the remote peer to
// the tun-side client while being a plain client of the real destination
// on a native stream socket.
type TcpSession struct {
	key FlowKey

	mu          sync.Mutex
	state       tcpState
	ours        uint32 // next seq we will emit
	theirs      uint32 // next seq we expect from the client
	conn        net.Conn
	connected   bool
	preConnect  [][]byte
	ooo         []oooSegment
	oooBytes    int
	oooMaxBytes int

	lastActive atomic.Int64
	closed     atomic.Bool

	// nextReleaseAt is the earliest release time (clock.NowMs units) the
	// next scheduled native-socket write for this session may use. A real
	// stream socket has no notion of a sequence number to reorder by, so
	// independently-sampled jitter per write cannot be allowed to reorder
	// bytes within one flow; scheduleOutboundTCPWrite clamps each write's
	// sampled release time forward to preserve submission order.
	nextReleaseAt atomic.Int64
}

// Close tears down the native socket. Safe to call more than once.
func (s *TcpSession) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.mu.Lock()
		conn := s.conn
		s.state = tcpClosed
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}
}

// handleOutboundTCP processes one outbound TCP segment from tun.
func (r *Router) handleOutboundTCP(ipHdr wire.IPv4Header, l4 []byte, nowMs int64) {
	tcpHdr, payload, err := wire.ParseTCP(l4)
	if err != nil {
		r.logDrop("malformed TCP segment", err)
		return
	}
	key := FlowKey{
		Proto:   wire.ProtoTCP,
		SrcAddr: ipHdr.Src,
		SrcPort: tcpHdr.SrcPort,
		DstAddr: ipHdr.Dst,
		DstPort: tcpHdr.DstPort,
	}

	sess, ok := r.sessions.getTCP(key)
	if !ok {
		r.handleNewTCPSegment(key, tcpHdr, len(payload), nowMs)
		return
	}
	r.handleExistingTCPSegment(sess, key, tcpHdr, payload, nowMs)
}

func (r *Router) handleNewTCPSegment(key FlowKey, hdr wire.TCPHeader, payloadLen int, nowMs int64) {
	if hdr.Has(wire.FlagSYN) && !r.isRejectedPort(key.DstPort) {
		sess := &TcpSession{
			key:         key,
			state:       tcpSynReceived,
			theirs:      hdr.Seq + 1,
			ours:        randomISN(),
			oooMaxBytes: r.reassemblyMaxLen,
		}
		sess.lastActive.Store(nowMs)
		r.sessions.insertTCP(key, sess)

		ours := sess.ours
		theirs := sess.theirs
		sess.ours++
		r.emitTCP(key, ours, theirs, wire.FlagSYN|wire.FlagACK, nil)

		r.wg.Add(1)
		go r.connectTCP(key, sess)
		return
	}

	// No session and not an acceptable SYN (or a SYN to a rejected port):
	// reject per RFC 793 §3.4 — when the incoming segment carries no ACK, the
	// RST carries SEQ=0 and ACK=incoming.SEQ+segLen, with the ACK flag set,
	// where segLen counts the payload plus one each for SYN and FIN.
	if hdr.Has(wire.FlagACK) {
		r.emitTCP(key, hdr.Ack, 0, wire.FlagRST, nil)
	} else {
		segLen := uint32(payloadLen)
		if hdr.Has(wire.FlagSYN) {
			segLen++
		}
		if hdr.Has(wire.FlagFIN) {
			segLen++
		}
		r.emitTCP(key, 0, hdr.Seq+segLen, wire.FlagRST|wire.FlagACK, nil)
	}
}

func (r *Router) connectTCP(key FlowKey, sess *TcpSession) {
	defer r.wg.Done()
	d := net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, _ string, c syscall.RawConn) error {
			var protectErr error
			c.Control(func(fd uintptr) {
				protectErr = r.protect(fd)
			})
			return protectErr
		},
	}
	raddr := net.JoinHostPort(net.IP(key.DstAddr[:]).String(), portString(key.DstPort))
	conn, err := d.DialContext(context.Background(), "tcp4", raddr)

	sess.mu.Lock()
	if sess.state == tcpClosed {
		sess.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		sess.mu.Unlock()
		r.logDrop("tcp connect failed", err)
		r.sessions.removeTCP(key)
		return
	}
	sess.conn = conn
	sess.connected = true
	pending := sess.preConnect
	sess.preConnect = nil
	sess.mu.Unlock()

	for _, buf := range pending {
		buf := buf
		r.scheduleOutboundTCPWrite(sess, func() {
			if _, err := conn.Write(buf); err != nil {
				r.logDrop("tcp flush pre-connect write failed", err)
				r.sessions.removeTCP(key)
				return
			}
			r.stats.sentBytes.Add(int64(len(buf)))
			r.stats.sentPackets.Add(1)
		})
	}

	r.wg.Add(1)
	go r.readTCPReplies(key, sess)
}

func (r *Router) handleExistingTCPSegment(sess *TcpSession, key FlowKey, hdr wire.TCPHeader, payload []byte, nowMs int64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastActive.Store(nowMs)

	if hdr.Has(wire.FlagRST) {
		sess.state = tcpClosed
		sess.mu.Unlock()
		r.sessions.removeTCP(key)
		sess.mu.Lock()
		return
	}

	if hdr.Has(wire.FlagSYN) {
		// Retransmitted SYN: our SYN+ACK consumed one sequence number
		// already, so re-advertise with ours-1.
		r.emitTCP(key, sess.ours-1, sess.theirs, wire.FlagSYN|wire.FlagACK, nil)
		return
	}

	if sess.state == tcpSynReceived && hdr.Has(wire.FlagACK) {
		sess.state = tcpEstablished
	}

	if len(payload) > 0 {
		r.handleTCPPayloadLocked(sess, key, hdr.Seq, payload)
	}

	if hdr.Has(wire.FlagFIN) {
		finSeq := hdr.Seq + uint32(len(payload))
		sess.theirs = finSeq + 1
		ours := sess.ours
		sess.ours++
		theirs := sess.theirs
		sess.state = tcpClosed
		r.emitTCP(key, ours, theirs, wire.FlagFIN|wire.FlagACK, nil)
		sess.mu.Unlock()
		r.sessions.removeTCP(key)
		sess.mu.Lock()
	}
}

// handleTCPPayloadLocked implements the SEQ-ordering rules of §4.H. Caller
// holds sess.mu.
func (r *Router) handleTCPPayloadLocked(sess *TcpSession, key FlowKey, seq uint32, payload []byte) {
	diff := wire.SeqDiff(seq, sess.theirs)
	switch {
	case diff < 0:
		// Old duplicate: re-ACK current theirs, do not forward.
		r.emitTCP(key, sess.ours, sess.theirs, wire.FlagACK, nil)
		return
	case diff > 65535:
		// DoS guard: drop the segment entirely.
		return
	case diff > 0:
		r.bufferOutOfOrderLocked(sess, seq, payload)
		r.emitTCP(key, sess.ours, sess.theirs, wire.FlagACK, nil)
		return
	}

	r.forwardOrQueueLocked(sess, payload)
	sess.theirs += uint32(len(payload))
	r.drainOutOfOrderLocked(sess)
	r.emitTCP(key, sess.ours, sess.theirs, wire.FlagACK, nil)
}

func (r *Router) bufferOutOfOrderLocked(sess *TcpSession, seq uint32, payload []byte) {
	if sess.oooBytes+len(payload) > sess.oooMaxBytes {
		return
	}
	cp := append([]byte(nil), payload...)
	sess.ooo = append(sess.ooo, oooSegment{seq: seq, data: cp})
	sess.oooBytes += len(cp)
	sort.Slice(sess.ooo, func(i, j int) bool { return wire.SeqDiff(sess.ooo[i].seq, sess.ooo[j].seq) < 0 })
}

// drainOutOfOrderLocked forwards any buffered segments that have become
// contiguous with theirs, including partial overlap trimming.
func (r *Router) drainOutOfOrderLocked(sess *TcpSession) {
	for len(sess.ooo) > 0 {
		head := sess.ooo[0]
		diff := wire.SeqDiff(head.seq, sess.theirs)
		if diff > 0 {
			break // still a gap
		}
		data := head.data
		if diff < 0 {
			skip := -diff
			if int(skip) >= len(data) {
				data = nil
			} else {
				data = data[skip:]
			}
		}
		sess.oooBytes -= len(head.data)
		sess.ooo = sess.ooo[1:]
		if len(data) == 0 {
			continue
		}
		r.forwardOrQueueLocked(sess, data)
		sess.theirs += uint32(len(data))
	}
}

func (r *Router) forwardOrQueueLocked(sess *TcpSession, payload []byte) {
	// payload aliases the tun-reader's reusable read buffer (or the
	// out-of-order reassembly buffer's own copy); either way it must be
	// copied before the write is deferred past this call's return.
	cp := append([]byte(nil), payload...)
	if !sess.connected {
		sess.preConnect = append(sess.preConnect, cp)
		return
	}
	r.scheduleOutboundTCPWrite(sess, func() {
		if _, err := sess.conn.Write(cp); err != nil {
			r.logDrop("tcp native write failed", err)
			return
		}
		r.stats.sentBytes.Add(int64(len(cp)))
		r.stats.sentPackets.Add(1)
	})
}

// scheduleOutboundTCPWrite samples the outbound shaper like
// scheduleOutboundWrite, but clamps the resulting release time forward past
// any later release time already scheduled for this session, so jitter can
// never reorder bytes within one TCP flow's native-socket writes.
func (r *Router) scheduleOutboundTCPWrite(sess *TcpSession, write func()) {
	drop, delayMs := r.outboundShaper.Sample()
	if drop {
		r.stats.totalDropped.Add(1)
		return
	}
	releaseAt := r.clock.NowMs() + int64(delayMs)
	for {
		prev := sess.nextReleaseAt.Load()
		if releaseAt < prev {
			releaseAt = prev
		}
		if sess.nextReleaseAt.CompareAndSwap(prev, releaseAt) {
			break
		}
	}
	r.outboundJobs.Push(write, releaseAt)
}

func (r *Router) readTCPReplies(key FlowKey, sess *TcpSession) {
	defer r.wg.Done()
	buf := make([]byte, tcpMSS)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			r.stats.receivedBytes.Add(int64(n))
			r.stats.receivedPackets.Add(1)
			r.emitTCPData(sess, key, buf[:n])
		}
		if err != nil {
			// An orderly close (read returns 0, err == io.EOF) is the only
			// case the spec has us synthesise a FIN for. Any other native
			// socket error (reset, timeout, ...) closes the session with no
			// RST or FIN sent upstream; the tun-side application times out.
			if errors.Is(err, io.EOF) {
				sess.mu.Lock()
				ours := sess.ours
				theirs := sess.theirs
				alreadyClosed := sess.state == tcpClosed
				sess.ours++
				sess.mu.Unlock()
				if !alreadyClosed {
					r.emitTCP(key, ours, theirs, wire.FlagFIN|wire.FlagACK, nil)
				}
			} else {
				r.logDrop("tcp native read failed", err)
			}
			r.sessions.removeTCP(key)
			return
		}
		select {
		case <-r.stopCh:
			return
		default:
		}
	}
}

func (r *Router) emitTCPData(sess *TcpSession, key FlowKey, chunk []byte) {
	sess.mu.Lock()
	seq := sess.ours
	ack := sess.theirs
	sess.ours += uint32(len(chunk))
	sess.mu.Unlock()
	r.emitTCP(key, seq, ack, wire.FlagACK|wire.FlagPSH, chunk)
}

// emitTCP builds a reply TCP segment (addresses/ports swapped relative to
// the outbound key) and submits it to the inbound shaper.
func (r *Router) emitTCP(key FlowKey, seq, ack uint32, flags uint8, payload []byte) {
	seg := wire.TCPSegment{
		SrcPort: key.DstPort,
		DstPort: key.SrcPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Window:  65535,
		Payload: payload,
	}
	l4Len := 20 + len(payload)
	frame := make([]byte, 20+l4Len)
	ipLen := wire.EncodeIPv4(frame, key.DstAddr, key.SrcAddr, wire.ProtoTCP, r.nextIPID(), wire.DefaultTTL, l4Len)
	wire.EncodeTCP(frame[ipLen:], key.DstAddr, key.SrcAddr, seg)
	r.submitInbound(frame)
}

func (r *Router) isRejectedPort(port uint16) bool {
	for _, p := range r.tcpRejectPorts {
		if uint16(p) == port {
			return true
		}
	}
	return false
}
