// Package router implements the packet router and shaper pipeline: it
// parses IPv4 frames read from a tun device, maintains per-flow UDP/TCP/
// ICMP state, forwards to the real network on native sockets, synthesises
// replies back onto tun, and shapes every packet in both directions
// through a delay/loss NetworkProfile.
package router

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"dtcsim/internal/profile"
	"dtcsim/internal/queue"
	"dtcsim/internal/wire"
)

// TunIO is the minimal surface the Router needs from a tun device: full
// IPv4 frame read/write plus close. Production code gets one from
// openTun; tests can supply any io.ReadWriteCloser (e.g. net.Pipe).
type TunIO interface {
	io.ReadWriteCloser
}

// Protector marks a native socket fd so the host OS routes its traffic out
// the physical NIC instead of back through the tun device. The concrete
// mechanism (SO_MARK, a VPN-aware protect() call, etc) is host-OS
// dependent and supplied by the caller.
type Protector func(fd uintptr) error

// Config bundles the knobs Router needs beyond the NetworkProfile itself.
type Config struct {
	TunAddress       [4]byte
	MTU              int
	UDPIdleTimeout   time.Duration
	TCPIdleTimeout   time.Duration
	SweepInterval    time.Duration
	ReassemblyMaxLen int
	TCPRejectPorts   []int
	Clock            clockwork.Clock // nil => clockwork.NewRealClock()
	Logger           *slog.Logger    // nil => slog.Default()
}

// Router owns the tun device, the session table, the two shapers, and the
// background goroutines that move packets between them. It holds no
// package-level state; every piece is an explicit field so multiple
// Routers (as in tests) never interfere with each other.
type Router struct {
	tun            TunIO
	tunAddress     [4]byte
	mtu            int
	sessions       *SessionTable
	outboundShaper *Shaper
	inboundShaper  *Shaper
	outboundJobs   *queue.DelayQueue[func()]
	clock          PacketClock
	log            *slog.Logger
	protect        Protector

	udpIdleTimeoutMs int64
	tcpIdleTimeoutMs int64
	sweepInterval    time.Duration
	reassemblyMaxLen int
	tcpRejectPorts   []int

	ipID atomic.Uint32

	udpReadersMu      sync.Mutex
	udpReadersStarted map[FlowKey]bool

	stats stats

	stopCh chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Router bound to tun, with protect applied to every
// native socket before connect.
func New(tun TunIO, cfg Config, protect Protector) *Router {
	ck := cfg.Clock
	if ck == nil {
		ck = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if protect == nil {
		protect = func(uintptr) error { return nil }
	}
	clock := NewPacketClock(ck)

	r := &Router{
		tun:               tun,
		tunAddress:        cfg.TunAddress,
		mtu:               cfg.MTU,
		sessions:          NewSessionTable(),
		clock:             clock,
		log:               logger,
		protect:           protect,
		udpIdleTimeoutMs:  cfg.UDPIdleTimeout.Milliseconds(),
		tcpIdleTimeoutMs:  cfg.TCPIdleTimeout.Milliseconds(),
		sweepInterval:     cfg.SweepInterval,
		reassemblyMaxLen:  cfg.ReassemblyMaxLen,
		tcpRejectPorts:    cfg.TCPRejectPorts,
		udpReadersStarted: make(map[FlowKey]bool),
		stopCh:            make(chan struct{}),
	}
	r.outboundShaper = NewShaper(profile.Up, clock, time.Now().UnixNano())
	r.inboundShaper = NewShaper(profile.Down, clock, time.Now().UnixNano()+1)
	r.outboundJobs = queue.New[func()](clock.NowMs)
	return r
}

// SetProfile atomically replaces the active NetworkProfile on both
// shapers. In-flight packets keep their already-assigned release times.
func (r *Router) SetProfile(p profile.Profile) {
	r.outboundShaper.SetProfile(p)
	r.inboundShaper.SetProfile(p)
}

// Start launches the tun reader, the two drainers, and the sweeper. It
// returns immediately; call Stop to shut everything down.
func (r *Router) Start() {
	r.wg.Add(4)
	go r.runTunReader()
	go r.runOutboundDrainer()
	go r.runInboundDrainer()
	go r.runSweeper()
}

// Stop breaks every blocking wait, closes all open native sockets, closes
// the tun fd last, and waits (bounded by the caller's own patience) for
// every goroutine to exit.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		for _, s := range r.sessions.allUDP() {
			s.Close()
		}
		for _, s := range r.sessions.allTCP() {
			s.Close()
		}
		r.tun.Close()
	})
	r.wg.Wait()
}

func (r *Router) runTunReader() {
	defer r.wg.Done()
	buf := make([]byte, 16384)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		n, err := r.tun.Read(buf)
		if err != nil {
			r.log.Debug("dtcsim: tun read closed", "error", err)
			return
		}
		r.handleOutboundFrame(buf[:n])
	}
}

func (r *Router) handleOutboundFrame(frame []byte) {
	ipHdr, l4, err := wire.ParseIPv4(frame)
	if err != nil {
		r.logDrop("malformed IPv4 frame", err)
		return
	}
	if ipHdr.Src != r.tunAddress {
		r.logDrop("rejecting frame with foreign source address", fmt.Errorf("src=%v", ipHdr.Src))
		return
	}

	now := r.clock.NowMs()
	switch ipHdr.Proto {
	case wire.ProtoUDP:
		r.handleOutboundUDP(ipHdr, l4, now)
	case wire.ProtoTCP:
		r.handleOutboundTCP(ipHdr, l4, now)
	case wire.ProtoICMP:
		r.handleICMP(ipHdr, l4)
	default:
		r.logDrop("unsupported protocol", fmt.Errorf("proto=%d", ipHdr.Proto))
	}
}

// scheduleOutboundWrite runs one native-socket write through the outbound
// shaper's loss/delay pipeline. The loss draw happens immediately: on loss
// the write never runs. On survival, write is deferred to the outbound
// drainer's release-time gate instead of being pushed onto a DelayQueue of
// re-buffered bytes — the collapsed-queue form the design note in §4.K
// permits, applied here to keep the loss/delay/statistics behavior
// identical to shaping the frame itself. Used for UDP, whose datagrams have
// no ordering guarantee to begin with; TCP goes through
// scheduleOutboundTCPWrite instead, which adds per-session ordering on top
// of this same sampling.
func (r *Router) scheduleOutboundWrite(write func()) {
	drop, delayMs := r.outboundShaper.Sample()
	if drop {
		r.stats.totalDropped.Add(1)
		return
	}
	releaseAt := r.clock.NowMs() + int64(delayMs)
	r.outboundJobs.Push(write, releaseAt)
}

// submitInbound feeds a synthesised reply frame through the inbound
// shaper; the drainer writes it to tun once its delay elapses.
func (r *Router) submitInbound(buf []byte) {
	if !r.inboundShaper.Submit(buf) {
		r.stats.totalDropped.Add(1)
	}
}

func (r *Router) runInboundDrainer() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		buf, ok := r.inboundShaper.Drain(200)
		if !ok {
			continue
		}
		if _, err := r.tun.Write(buf); err != nil {
			r.log.Debug("dtcsim: tun write failed", "error", err)
			return
		}
	}
}

// runOutboundDrainer releases scheduled native-socket writes (queued by
// scheduleOutboundWrite) once their sampled delay has elapsed, and
// performs the write itself at that point.
func (r *Router) runOutboundDrainer() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		write, ok := r.outboundJobs.PopReadyBlocking(200)
		if !ok {
			continue
		}
		write()
	}
}

func (r *Router) runSweeper() {
	defer r.wg.Done()
	interval := r.sweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			closedUDP, closedTCP := r.sessions.sweepIdle(r.clock.NowMs(), r.udpIdleTimeoutMs, r.tcpIdleTimeoutMs)
			if closedUDP+closedTCP > 0 {
				r.log.Debug("dtcsim: swept idle sessions", "udp", closedUDP, "tcp", closedTCP)
			}
		}
	}
}

func (r *Router) nextIPID() uint16 {
	return uint16(r.ipID.Add(1))
}

func (r *Router) logDrop(reason string, err error) {
	r.stats.totalDropped.Add(1)
	r.log.Debug("dtcsim: dropping packet", "reason", reason, "error", err)
}
