package ramp

import (
	"math"
	"testing"
)

func TestUpdate_FirstStepFromRest(t *testing.T) {
	got, fr := Update(200, 0)
	if got != 10 {
		t.Errorf("Update(200, 0) = %v, want 10", got)
	}
	if math.Abs(fr.Current-10.0/255) > 1e-12 {
		t.Errorf("Current fraction = %v, want %v", fr.Current, 10.0/255)
	}
	if math.Abs(fr.Target-200.0/255) > 1e-12 {
		t.Errorf("Target fraction = %v, want %v", fr.Target, 200.0/255)
	}
}

func TestUpdate_SmallGapQuarterStep(t *testing.T) {
	cases := []struct {
		name            string
		target, current float64
		want            float64
	}{
		{"up_8", 108, 100, 102},
		{"down_8", 100, 108, 106},
		{"equal", 50, 50, 50},
		{"exactly_40", 40, 0, 10},
		{"down_to_zero", 0, 255, 245},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Update(tc.target, tc.current)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("Update(%v, %v) = %v, want %v", tc.target, tc.current, got, tc.want)
			}
		})
	}
}

func TestUpdate_NeverExceedsMaxStep(t *testing.T) {
	for target := 0.0; target <= 255; target += 15 {
		for current := 0.0; current <= 255; current += 17 {
			got, _ := Update(target, current)
			if d := math.Abs(got - current); d > MaxStep+1e-12 {
				t.Fatalf("Update(%v, %v) moved %v > %v", target, current, d, MaxStep)
			}
		}
	}
}

func TestUpdate_NoOvershoot(t *testing.T) {
	for _, tc := range []struct{ target, current float64 }{{200, 0}, {0, 200}, {3, 1}, {1, 3}} {
		got, _ := Update(tc.target, tc.current)
		if (tc.target-tc.current)*(tc.target-got) < 0 {
			t.Errorf("Update(%v, %v) = %v overshot the target", tc.target, tc.current, got)
		}
	}
}

func TestUpdate_ConvergesWithConstantTarget(t *testing.T) {
	const target = 200.0
	current := 0.0
	prevGap := math.Abs(target - current)

	// Rate-limited phase: 10 units per call until the gap drops under 40.
	limited := int(math.Ceil(prevGap * Divisor / MaxStep))
	for i := 0; i < limited; i++ {
		current, _ = Update(target, current)
		gap := math.Abs(target - current)
		if gap > prevGap {
			t.Fatalf("call %d: gap grew from %v to %v", i, prevGap, gap)
		}
		prevGap = gap
	}
	if prevGap >= MaxStep*Divisor {
		t.Fatalf("after %d calls gap = %v, want < %v", limited, prevGap, MaxStep*Divisor)
	}

	// Geometric tail: each call removes a quarter of the gap.
	for i := 0; i < 60; i++ {
		current, _ = Update(target, current)
	}
	if math.Abs(target-current) > 1e-5 {
		t.Errorf("current = %v, want ~%v", current, target)
	}
}
