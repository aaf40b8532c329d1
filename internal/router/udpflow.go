package router

import (
	"fmt"
	"net"
	"sync/atomic"

	"dtcsim/internal/wire"
)

// UdpSession is a single UDP flow: a connected native datagram socket to
// the real destination, plus the FlowKey needed to synthesise replies.
type UdpSession struct {
	key        FlowKey
	conn       *net.UDPConn
	lastActive atomic.Int64
	closed     atomic.Bool
}

// Close closes the native socket. Safe to call more than once.
func (s *UdpSession) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}

// handleOutboundUDP processes a single outbound UDP datagram from tun: it
// gets-or-inserts the session, opens the native socket on first sight
// (protected so the host OS doesn't loop it back through tun), and writes
// the payload.
func (r *Router) handleOutboundUDP(ipHdr wire.IPv4Header, l4 []byte, nowMs int64) {
	udpHdr, payload, err := wire.ParseUDP(l4)
	if err != nil {
		r.logDrop("malformed UDP segment", err)
		return
	}
	key := FlowKey{
		Proto:   wire.ProtoUDP,
		SrcAddr: ipHdr.Src,
		SrcPort: udpHdr.SrcPort,
		DstAddr: ipHdr.Dst,
		DstPort: udpHdr.DstPort,
	}

	sess, _, err := r.sessions.getOrInsertUDP(key, func() (*UdpSession, error) {
		return r.dialUDP(key)
	})
	if err != nil {
		r.logDrop("udp dial failed", err)
		return
	}
	sess.lastActive.Store(nowMs)

	// payload aliases the tun-reader's reusable read buffer; copy it before
	// the write is deferred past this call's return.
	cp := append([]byte(nil), payload...)
	r.scheduleOutboundWrite(func() {
		if _, err := sess.conn.Write(cp); err != nil {
			r.logDrop("udp native write failed", err)
			r.sessions.removeUDP(key)
			return
		}
		r.stats.sentBytes.Add(int64(len(cp)))
		r.stats.sentPackets.Add(1)
	})

	r.ensureUDPReader(key, sess)
}

func (r *Router) dialUDP(key FlowKey) (*UdpSession, error) {
	raddr := &net.UDPAddr{IP: net.IP(key.DstAddr[:]), Port: int(key.DstPort)}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", raddr, err)
	}
	if rc, err := conn.SyscallConn(); err == nil {
		var protectErr error
		rc.Control(func(fd uintptr) {
			protectErr = r.protect(fd)
		})
		if protectErr != nil {
			conn.Close()
			return nil, fmt.Errorf("protect udp socket: %w", protectErr)
		}
	}
	s := &UdpSession{key: key, conn: conn}
	return s, nil
}

// ensureUDPReader starts the per-session reply-reading goroutine exactly
// once. It is idiomatic Go's substitute for registering the socket with a
// readiness selector: the netpoller already multiplexes the blocking
// conn.Read call underneath.
func (r *Router) ensureUDPReader(key FlowKey, sess *UdpSession) {
	r.udpReadersMu.Lock()
	if r.udpReadersStarted[key] {
		r.udpReadersMu.Unlock()
		return
	}
	r.udpReadersStarted[key] = true
	r.udpReadersMu.Unlock()

	r.wg.Add(1)
	go r.readUDPReplies(key, sess)
}

func (r *Router) readUDPReplies(key FlowKey, sess *UdpSession) {
	defer r.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, err := sess.conn.Read(buf)
		if err != nil {
			r.sessions.removeUDP(key)
			r.udpReadersMu.Lock()
			delete(r.udpReadersStarted, key)
			r.udpReadersMu.Unlock()
			return
		}
		sess.lastActive.Store(r.clock.NowMs())
		r.stats.receivedBytes.Add(int64(n))
		r.stats.receivedPackets.Add(1)
		r.synthesizeUDPReply(key, buf[:n])

		select {
		case <-r.stopCh:
			return
		default:
		}
	}
}

// synthesizeUDPReply builds a reply IP+UDP frame (addresses and ports
// swapped relative to the outbound flow key) and submits it to the inbound
// shaper.
func (r *Router) synthesizeUDPReply(key FlowKey, payload []byte) {
	frame := make([]byte, 20+8+len(payload))
	ipLen := wire.EncodeIPv4(frame, key.DstAddr, key.SrcAddr, wire.ProtoUDP, r.nextIPID(), wire.DefaultTTL, 8+len(payload))
	wire.EncodeUDP(frame[ipLen:], key.DstAddr, key.SrcAddr, key.DstPort, key.SrcPort, payload)
	r.submitInbound(frame)
}
