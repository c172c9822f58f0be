package profile

import (
	"testing"
	"time"
)

func TestByNameFallback(t *testing.T) {
	t.Parallel()
	if got := ByName("casual").Name; got != "casual" {
		t.Fatalf("ByName(casual).Name = %s", got)
	}
	if got := ByName("no-such-preset").Name; got != "casual" {
		t.Fatalf("unknown preset should fall back to casual, got %s", got)
	}
}

func TestSamplerStaysInRange(t *testing.T) {
	t.Parallel()
	p := ByName("social")
	s := NewSampler(p, 42)

	for i := 0; i < 1000; i++ {
		if d := s.ActionDelay(); d < p.ActionDelay.Min || d > p.ActionDelay.Max {
			t.Fatalf("ActionDelay %v out of [%v,%v]", d, p.ActionDelay.Min, p.ActionDelay.Max)
		}
		if d := s.BreakDuration(); d < p.BreakDuration.Min || d > p.BreakDuration.Max {
			t.Fatalf("BreakDuration %v out of range", d)
		}
		if n := s.BreakFrequency(); n < p.BreakFrequency.Min || n > p.BreakFrequency.Max {
			t.Fatalf("BreakFrequency %d out of [%d,%d]", n, p.BreakFrequency.Min, p.BreakFrequency.Max)
		}
		if n := s.ScrollDistance(); n < p.ScrollDistance.Min || n > p.ScrollDistance.Max {
			t.Fatalf("ScrollDistance %d out of range", n)
		}
	}
}

func TestDegenerateRangeSamplesMin(t *testing.T) {
	t.Parallel()
	p := Profile{
		Name:           "flat",
		ActionDelay:    Range{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond},
		BreakFrequency: IntRange{Min: 3, Max: 3},
	}
	s := NewSampler(p, 1)
	if d := s.ActionDelay(); d != 5*time.Millisecond {
		t.Fatalf("ActionDelay = %v, want 5ms", d)
	}
	if n := s.BreakFrequency(); n != 3 {
		t.Fatalf("BreakFrequency = %d, want 3", n)
	}
}

func TestBreakFrequencyNeverZero(t *testing.T) {
	t.Parallel()
	s := NewSampler(Profile{Name: "zero"}, 7)
	if n := s.BreakFrequency(); n < 1 {
		t.Fatalf("BreakFrequency = %d, want >= 1", n)
	}
}
