package router

import "sync"

// SessionTable holds the live UDP and TCP flows, keyed by FlowKey. The map
// itself is guarded by a single mutex; a TCP session's internals are
// guarded by its own lock and a UDP session's mutable fields are atomics,
// so the table lock is only ever held for the duration of a lookup,
// insert, remove, or sweep.
type SessionTable struct {
	mu  sync.Mutex
	udp map[FlowKey]*UdpSession
	tcp map[FlowKey]*TcpSession
}

// NewSessionTable constructs an empty SessionTable.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		udp: make(map[FlowKey]*UdpSession),
		tcp: make(map[FlowKey]*TcpSession),
	}
}

func (t *SessionTable) getUDP(key FlowKey) (*UdpSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.udp[key]
	return s, ok
}

// getOrInsertUDP returns the existing session for key, or inserts and
// returns newSession() if none exists yet. newSession is invoked without
// holding the table lock, so opening a socket never blocks other lookups;
// the race between two concurrent misses is resolved by re-checking under
// lock and closing the losing session.
func (t *SessionTable) getOrInsertUDP(key FlowKey, newSession func() (*UdpSession, error)) (*UdpSession, bool, error) {
	if s, ok := t.getUDP(key); ok {
		return s, false, nil
	}
	s, err := newSession()
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	if existing, ok := t.udp[key]; ok {
		t.mu.Unlock()
		s.Close()
		return existing, false, nil
	}
	t.udp[key] = s
	t.mu.Unlock()
	return s, true, nil
}

func (t *SessionTable) removeUDP(key FlowKey) {
	t.mu.Lock()
	s, ok := t.udp[key]
	if ok {
		delete(t.udp, key)
	}
	t.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (t *SessionTable) getTCP(key FlowKey) (*TcpSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.tcp[key]
	return s, ok
}

func (t *SessionTable) insertTCP(key FlowKey, s *TcpSession) {
	t.mu.Lock()
	t.tcp[key] = s
	t.mu.Unlock()
}

func (t *SessionTable) removeTCP(key FlowKey) {
	t.mu.Lock()
	s, ok := t.tcp[key]
	if ok {
		delete(t.tcp, key)
	}
	t.mu.Unlock()
	if ok {
		s.Close()
	}
}

// sweepIdle closes and removes every session whose last-active timestamp is
// more than timeoutMs behind now.
func (t *SessionTable) sweepIdle(now int64, udpTimeoutMs, tcpTimeoutMs int64) (closedUDP, closedTCP int) {
	var deadUDP []*UdpSession
	var deadTCP []*TcpSession

	t.mu.Lock()
	for key, s := range t.udp {
		if now-s.lastActive.Load() > udpTimeoutMs {
			deadUDP = append(deadUDP, s)
			delete(t.udp, key)
		}
	}
	for key, s := range t.tcp {
		if now-s.lastActive.Load() > tcpTimeoutMs {
			deadTCP = append(deadTCP, s)
			delete(t.tcp, key)
		}
	}
	t.mu.Unlock()

	for _, s := range deadUDP {
		s.Close()
	}
	for _, s := range deadTCP {
		s.Close()
	}
	return len(deadUDP), len(deadTCP)
}

func (t *SessionTable) allUDP() []*UdpSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*UdpSession, 0, len(t.udp))
	for _, s := range t.udp {
		out = append(out, s)
	}
	return out
}

func (t *SessionTable) allTCP() []*TcpSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*TcpSession, 0, len(t.tcp))
	for _, s := range t.tcp {
		out = append(out, s)
	}
	return out
}
