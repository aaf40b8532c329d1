package router

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"dtcsim/internal/profile"
	"dtcsim/internal/queue"
)

// Shaper applies per-direction loss and delay to packets moving through
// one leg of the router (outbound to the real network, or inbound back to
// tun). It owns its own DelayQueue and PRNG so outbound and inbound shaping
// never contend on the same lock or the same random sequence.
type Shaper struct {
	dir   profile.Direction
	dq    *queue.DelayQueue[[]byte]
	clock PacketClock

	mu  sync.Mutex
	rng *rand.Rand

	profile atomic.Pointer[profile.Profile]

	total   atomic.Int64
	dropped atomic.Int64
}

// NewShaper constructs a Shaper for the given direction, seeded
// independently from seed so concurrent shapers never share a random
// sequence.
func NewShaper(dir profile.Direction, clock PacketClock, seed int64) *Shaper {
	s := &Shaper{
		dir:   dir,
		dq:    queue.New[[]byte](clock.NowMs),
		clock: clock,
		rng:   rand.New(rand.NewSource(seed)),
	}
	p := profile.New(profile.NewFixedDelay(0), profile.LossConfig{}, profile.BandwidthConfig{})
	s.profile.Store(&p)
	return s
}

// SetProfile atomically replaces the active profile and resets the loss
// statistics counters. Packets already queued keep their previously
// assigned release times; a profile change never retro-delays in-flight
// data.
func (s *Shaper) SetProfile(p profile.Profile) {
	s.profile.Store(&p)
	s.total.Store(0)
	s.dropped.Store(0)
}

func (s *Shaper) draw() float64 {
	s.mu.Lock()
	v := s.rng.Float64()
	s.mu.Unlock()
	return v
}

// Sample draws this direction's loss decision and, on survival, its delay
// in milliseconds, updating the running statistics counters. It does not
// touch the DelayQueue: callers that manage their own release schedule
// (e.g. the outbound write-timing gate in router.go) use this directly
// instead of Submit.
func (s *Shaper) Sample() (drop bool, delayMs int) {
	s.total.Add(1)
	p := *s.profile.Load()

	if s.draw() < p.Loss().Rate(s.dir) {
		s.dropped.Add(1)
		return true, 0
	}
	return false, p.Delay().SampleMs(s.dir, s.draw())
}

// Submit runs buf through the loss/delay pipeline, pushing it onto this
// Shaper's own DelayQueue. It returns false if the packet was dropped for
// loss.
func (s *Shaper) Submit(buf []byte) bool {
	drop, delayMs := s.Sample()
	if drop {
		return false
	}
	releaseAt := s.clock.NowMs() + int64(delayMs)
	s.dq.Push(buf, releaseAt)
	return true
}

// Drain waits up to maxWaitMs for a ready packet, delegating to the
// underlying DelayQueue.
func (s *Shaper) Drain(maxWaitMs int64) ([]byte, bool) {
	return s.dq.PopReadyBlocking(maxWaitMs)
}

// Stats returns the running (total, dropped) loss counters since the last
// SetProfile call.
func (s *Shaper) Stats() (total, dropped int64) {
	return s.total.Load(), s.dropped.Load()
}

// QueueLen reports how many packets are currently queued awaiting release.
func (s *Shaper) QueueLen() int {
	return s.dq.Len()
}
