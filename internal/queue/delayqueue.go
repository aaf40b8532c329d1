// Package queue implements the min-heap release-time queue that the
// shaper uses to hold items — parsed packet buffers, or (for the outbound
// write-timing gate) deferred native-socket writes — until their
// simulated delay has elapsed.
package queue

import (
	"container/heap"
	"sync"
	"time"
)

// DelayedPacket is one item scheduled for release at a point on the
// router's packet clock. T is typically []byte (a queued frame) or func()
// (a deferred native-socket write).
type DelayedPacket[T any] struct {
	Buffer    T
	ReleaseAt int64 // milliseconds on the packet clock
	seq       uint64
}

// DelayQueue is a thread-safe min-heap of DelayedPacket[T] ordered by
// ReleaseAt, with seq as a FIFO tie-breaker for equal release times.
type DelayQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	h    delayHeap[T]
	seq  uint64

	nowMs func() int64
}

// New constructs an empty DelayQueue. nowMs supplies the current packet
// clock reading; callers pass clock.PacketClock.NowMs.
func New[T any](nowMs func() int64) *DelayQueue[T] {
	q := &DelayQueue[T]{nowMs: nowMs}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts buffer with the given release time and wakes any waiter.
func (q *DelayQueue[T]) Push(buffer T, releaseAt int64) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, &DelayedPacket[T]{Buffer: buffer, ReleaseAt: releaseAt, seq: q.seq})
	q.mu.Unlock()
	q.cond.Broadcast()
}

// PopReady returns the head buffer if it is due (ReleaseAt <= now), else
// the zero value of T and false, without blocking.
func (q *DelayQueue[T]) PopReady() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popReadyLocked(q.nowMs())
}

func (q *DelayQueue[T]) popReadyLocked(now int64) (T, bool) {
	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	if q.h[0].ReleaseAt > now {
		var zero T
		return zero, false
	}
	dp := heap.Pop(&q.h).(*DelayedPacket[T])
	return dp.Buffer, true
}

// PopReadyBlocking waits until the head becomes ready or maxWaitMs elapses,
// whichever comes first, then re-checks the head under lock. Returns the
// zero value of T and false if the queue was empty throughout the wait or
// the wait timed out before anything became ready.
func (q *DelayQueue[T]) PopReadyBlocking(maxWaitMs int64) (T, bool) {
	deadline := time.Now().Add(time.Duration(maxWaitMs) * time.Millisecond)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		now := q.nowMs()
		if buf, ok := q.popReadyLocked(now); ok {
			return buf, true
		}

		wait := time.Duration(maxWaitMs) * time.Millisecond
		if q.h.Len() > 0 {
			if headWait := q.h[0].ReleaseAt - now; headWait >= 0 {
				if hw := time.Duration(headWait) * time.Millisecond; hw < wait {
					wait = hw
				}
			} else {
				wait = 0
			}
		}
		if wait <= 0 {
			return q.popReadyLocked(q.nowMs())
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, false
		}

		woken := make(chan struct{})
		timer := time.AfterFunc(wait, func() {
			q.cond.Broadcast()
		})
		go func() {
			<-woken
			timer.Stop()
		}()
		q.cond.Wait()
		close(woken)

		if time.Now().After(deadline) {
			return q.popReadyLocked(q.nowMs())
		}
	}
}

// Len reports the number of packets currently queued.
func (q *DelayQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

type delayHeap[T any] []*DelayedPacket[T]

func (h delayHeap[T]) Len() int { return len(h) }

func (h delayHeap[T]) Less(i, j int) bool {
	if h[i].ReleaseAt == h[j].ReleaseAt {
		return h[i].seq < h[j].seq
	}
	return h[i].ReleaseAt < h[j].ReleaseAt
}

func (h delayHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap[T]) Push(x any) { *h = append(*h, x.(*DelayedPacket[T])) }

func (h *delayHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
