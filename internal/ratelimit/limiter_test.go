package ratelimit

import (
	"testing"
	"time"

	"outreachd/internal/model"
	logx "outreachd/pkg/logx"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testLimits() Limits {
	return Limits{
		Defaults: map[model.ActionType]int{
			model.ActionLikePost:    5,
			model.ActionSendMessage: 2,
		},
		Platforms: map[model.Platform]map[model.ActionType]int{
			model.PlatformInstagram: {model.ActionSendMessage: 1},
		},
		Weights: map[model.ActionType]float64{
			model.ActionSendMessage: 3,
		},
		ActiveHours: []int{9, 12, 18},
		PeakHours:   []int{12},
	}
}

func TestCanPerformDailyMax(t *testing.T) {
	t.Parallel()
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(testLimits(), logx.Nop(), WithClock(fixedClock(noon)))

	for i := 0; i < 5; i++ {
		d := s.CanPerform("acct-1", model.PlatformTikTok, model.ActionLikePost)
		if !d.Allowed {
			t.Fatalf("action %d should be allowed", i+1)
		}
		s.Track("acct-1", model.ActionLikePost)
	}

	d := s.CanPerform("acct-1", model.PlatformTikTok, model.ActionLikePost)
	if d.Allowed {
		t.Fatal("6th action must be denied after 5 tracked")
	}
	if d.SecondsToReset <= 0 {
		t.Fatalf("SecondsToReset = %d, want > 0", d.SecondsToReset)
	}
	// Noon to midnight is 12 hours.
	if want := 12 * 3600; d.SecondsToReset != want {
		t.Fatalf("SecondsToReset = %d, want %d", d.SecondsToReset, want)
	}
}

func TestPlatformOverrideBeatsDefault(t *testing.T) {
	t.Parallel()
	s := New(testLimits(), logx.Nop())

	s.Track("acct-1", model.ActionSendMessage)

	// Instagram caps messages at 1, the generic default at 2.
	if d := s.CanPerform("acct-1", model.PlatformInstagram, model.ActionSendMessage); d.Allowed {
		t.Fatal("instagram override of 1 should deny the 2nd message")
	}
	if d := s.CanPerform("acct-1", model.PlatformTikTok, model.ActionSendMessage); !d.Allowed {
		t.Fatal("default of 2 should still allow the 2nd message elsewhere")
	}
}

func TestUnlimitedTypeAlwaysAllowedButTracked(t *testing.T) {
	t.Parallel()
	s := New(testLimits(), logx.Nop())

	for i := 0; i < 50; i++ {
		if d := s.CanPerform("acct-1", model.PlatformX, model.ActionViewProfile); !d.Allowed {
			t.Fatal("unconfigured type must always be allowed")
		}
		s.Track("acct-1", model.ActionViewProfile)
	}
	if got := s.Count("acct-1", model.ActionViewProfile); got != 50 {
		t.Fatalf("Count = %d, want 50 (unlimited types still tracked)", got)
	}
}

func TestUsagePercent(t *testing.T) {
	t.Parallel()
	s := New(testLimits(), logx.Nop())

	if got := s.UsagePercent("fresh", model.PlatformTikTok); got != 0 {
		t.Fatalf("fresh account usage = %v, want 0", got)
	}

	// TikTok budget: likes 5 (weight 1) + messages 2 (weight 3) = 11 units.
	s.Track("acct-1", model.ActionLikePost)
	s.Track("acct-1", model.ActionSendMessage)
	got := s.UsagePercent("acct-1", model.PlatformTikTok)
	want := (1*1.0 + 1*3.0) / (5*1.0 + 2*3.0) * 100
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("usage = %v, want %v", got, want)
	}
}

func TestUsagePercentClamped(t *testing.T) {
	t.Parallel()
	s := New(testLimits(), logx.Nop())
	for i := 0; i < 40; i++ {
		s.Track("acct-1", model.ActionSendMessage)
	}
	if got := s.UsagePercent("acct-1", model.PlatformInstagram); got != 100 {
		t.Fatalf("usage = %v, want clamp at 100", got)
	}
}

func TestResetAllClearsCounters(t *testing.T) {
	t.Parallel()
	s := New(testLimits(), logx.Nop())
	s.Track("acct-1", model.ActionLikePost)
	s.ResetAll()
	if got := s.Count("acct-1", model.ActionLikePost); got != 0 {
		t.Fatalf("count after reset = %d, want 0", got)
	}
	if got := s.UsagePercent("acct-1", model.PlatformTikTok); got != 0 {
		t.Fatalf("usage after reset = %v, want 0", got)
	}
}

func TestActiveHourMembership(t *testing.T) {
	t.Parallel()
	at := func(hour int) *Service {
		return New(testLimits(), logx.Nop(),
			WithClock(fixedClock(time.Date(2025, 3, 10, hour, 30, 0, 0, time.UTC))))
	}

	if !at(12).IsActiveHour() {
		t.Fatal("12:30 should be active")
	}
	if at(7).IsActiveHour() {
		t.Fatal("07:30 should not be active")
	}
	if !at(12).IsPeakHour() {
		t.Fatal("12:30 should be peak")
	}
	if at(9).IsPeakHour() {
		t.Fatal("09:30 should not be peak")
	}
}

func TestSecondsToNextActiveHour(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{
			name: "later today",
			now:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			want: 2 * 3600, // next is 12:00
		},
		{
			name: "mid hour",
			now:  time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC),
			want: 90 * 60,
		},
		{
			name: "after last active hour wraps to tomorrow",
			now:  time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC),
			want: 11 * 3600, // tomorrow 09:00
		},
		{
			name: "inside an active hour still targets the next one",
			now:  time.Date(2025, 3, 10, 18, 15, 0, 0, time.UTC),
			want: (24-18)*3600 - 15*60 + 9*3600, // tomorrow 09:00
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := New(testLimits(), logx.Nop(), WithClock(fixedClock(tt.now)))
			got := s.SecondsToNextActiveHour()
			if got != tt.want {
				t.Fatalf("SecondsToNextActiveHour = %d, want %d", got, tt.want)
			}
			if got < 0 {
				t.Fatal("must never be negative")
			}
		})
	}
}
