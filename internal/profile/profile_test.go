package profile

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestFixedDelaySplit60_40(t *testing.T) {
	d := NewFixedDelay(100)
	if d.FixedUp != 60 || d.FixedDown != 40 {
		t.Fatalf("expected 60/40 split, got up=%d down=%d", d.FixedUp, d.FixedDown)
	}
}

func TestSymmetricLossSplit50_50(t *testing.T) {
	l := NewSymmetricLoss(10)
	if l.Up != 5 || l.Down != 5 {
		t.Fatalf("expected 5/5 split of 10%%, got up=%v down=%v", l.Up, l.Down)
	}
	if !almostEqual(l.Rate(Up)+l.Rate(Down), 0.10, 1e-9) {
		t.Fatalf("combined rate should reconstruct the configured 10%%, got %v", l.Rate(Up)+l.Rate(Down))
	}
}

func TestPercentileSampleInterpolates(t *testing.T) {
	d := NewPercentileDelay([]PctPoint{
		{P: 25, Up: 10, Down: 10},
		{P: 50, Up: 20, Down: 20},
		{P: 90, Up: 50, Down: 50},
		{P: 95, Up: 80, Down: 80},
	})
	// Halfway between p25 (10ms) and p50 (20ms) is p37.5, i.e. v=0.375.
	got := d.SampleMs(Up, 0.375)
	if got < 14 || got > 16 {
		t.Fatalf("expected interpolated value near 15ms, got %d", got)
	}
}

func TestPercentileSampleBelowMinimum(t *testing.T) {
	d := NewPercentileDelay([]PctPoint{
		{P: 25, Up: 10, Down: 10},
		{P: 50, Up: 20, Down: 20},
	})
	got := d.SampleMs(Up, 0.10) // v*100 = 10, below p25
	if got < 0 || got > 10 {
		t.Fatalf("expected value scaled below the minimum point, got %d", got)
	}
}

func TestPercentileSampleAboveMaximumExtrapolates(t *testing.T) {
	d := NewPercentileDelay([]PctPoint{
		{P: 90, Up: 50, Down: 50},
		{P: 95, Up: 80, Down: 80},
	})
	got := d.SampleMs(Up, 0.99) // v*100 = 99, above p95
	if got <= 80 {
		t.Fatalf("expected extrapolation above the last point (80ms), got %d", got)
	}
}

func TestPercentileIndependentUpDown(t *testing.T) {
	d := NewPercentileDelay([]PctPoint{
		{P: 50, Up: 10, Down: 100},
	})
	if up := d.SampleMs(Up, 0.50); up != 10 {
		t.Fatalf("expected up column value 10, got %d", up)
	}
	if down := d.SampleMs(Down, 0.50); down != 100 {
		t.Fatalf("expected down column value 100, got %d", down)
	}
}

func TestProfileImmutableSnapshot(t *testing.T) {
	p := New(NewFixedDelay(50), NewSymmetricLoss(4), BandwidthConfig{})
	p2 := New(NewFixedDelay(999), NewSymmetricLoss(50), BandwidthConfig{})
	if p.Delay().FixedUp == p2.Delay().FixedUp {
		t.Fatalf("profiles should be independent snapshots")
	}
}
