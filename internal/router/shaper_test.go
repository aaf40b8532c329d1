package router

import (
	"math"
	"testing"

	"github.com/jonboulle/clockwork"

	"dtcsim/internal/profile"
)

func TestShaperSetProfileResetsStats(t *testing.T) {
	clock := NewPacketClock(clockwork.NewFakeClock())
	s := NewShaper(profile.Up, clock, 1)

	s.SetProfile(profile.New(profile.NewFixedDelay(0), profile.NewSymmetricLoss(100), profile.BandwidthConfig{}))
	for i := 0; i < 10; i++ {
		s.Submit([]byte("x"))
	}
	total, dropped := s.Stats()
	if total != 10 {
		t.Fatalf("expected total=10, got %d", total)
	}
	if dropped == 0 {
		t.Fatalf("expected some drops at 100%% configured loss, got 0")
	}

	s.SetProfile(profile.New(profile.NewFixedDelay(0), profile.LossConfig{}, profile.BandwidthConfig{}))
	total, dropped = s.Stats()
	if total != 0 || dropped != 0 {
		t.Fatalf("expected counters reset after SetProfile, got total=%d dropped=%d", total, dropped)
	}
}

func TestShaperLossRateWithinBinomialTolerance(t *testing.T) {
	clock := NewPacketClock(clockwork.NewFakeClock())
	s := NewShaper(profile.Up, clock, 42)
	s.SetProfile(profile.New(profile.NewFixedDelay(0), profile.NewSplitLoss(30, 30), profile.BandwidthConfig{}))

	const n = 5000
	const lossFrac = 0.30
	for i := 0; i < n; i++ {
		s.Submit([]byte("x"))
	}
	_, dropped := s.Stats()

	expected := float64(n) * lossFrac
	tolerance := 3 * math.Sqrt(float64(n)*lossFrac*(1-lossFrac))
	if math.Abs(float64(dropped)-expected) > tolerance {
		t.Fatalf("observed drops %d outside 3-sigma band around %v (tolerance %v)", dropped, expected, tolerance)
	}
}

func TestShaperNoLossNoDelayDeliversEverything(t *testing.T) {
	clock := NewPacketClock(clockwork.NewFakeClock())
	s := NewShaper(profile.Down, clock, 7)
	s.SetProfile(profile.New(profile.NewFixedDelay(0), profile.LossConfig{}, profile.BandwidthConfig{}))

	for i := 0; i < 20; i++ {
		if !s.Submit([]byte("x")) {
			t.Fatalf("packet %d should not have been dropped", i)
		}
	}
	delivered := 0
	for {
		if _, ok := s.Drain(10); !ok {
			break
		}
		delivered++
	}
	if delivered != 20 {
		t.Fatalf("expected 20 delivered packets, got %d", delivered)
	}
}
