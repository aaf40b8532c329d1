package router

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// PacketClock is the single monotonic millisecond time source every
// session, shaper, and delay queue in a Router shares. Wrapping
// clockwork.Clock lets tests advance time deterministically instead of
// sleeping.
type PacketClock struct {
	clock clockwork.Clock
}

// NewPacketClock wraps clock. Production callers pass
// clockwork.NewRealClock(); tests pass clockwork.NewFakeClock().
func NewPacketClock(clock clockwork.Clock) PacketClock {
	return PacketClock{clock: clock}
}

// NowMs returns the current reading in milliseconds.
func (c PacketClock) NowMs() int64 {
	return c.clock.Now().UnixMilli()
}

// After delegates to the wrapped clock's timer channel.
func (c PacketClock) After(d time.Duration) <-chan time.Time {
	return c.clock.After(d)
}
