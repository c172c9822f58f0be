package profile

import (
	"math/rand"
	"time"
)

// Range is an inclusive [Min,Max] sampling interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// IntRange is an inclusive [Min,Max] integer interval.
type IntRange struct {
	Min int
	Max int
}

// Profile is a named preset of timing ranges governing human-like pacing.
// It parameterizes delay magnitudes only; it never carries business logic,
// so any preset reproduces the same scheduling behavior at different speeds.
type Profile struct {
	Name string

	// TypingDelay is the per-keystroke pause while composing text.
	TypingDelay Range

	// ScrollDistance is the pixel span of a single scroll gesture.
	ScrollDistance IntRange

	// BreakDuration is the length of a rest once BreakFrequency actions have
	// accumulated.
	BreakDuration Range

	// BreakFrequency is how many actions occur between breaks.
	BreakFrequency IntRange

	// ViewDuration is how long content is inspected before acting on it.
	ViewDuration Range

	// ActionDelay is the pause between consecutive actions.
	ActionDelay Range

	// TypingErrorRate is the chance a keystroke is mistyped and corrected.
	TypingErrorRate float64
}

var presets = map[string]Profile{
	"casual": {
		Name:            "casual",
		TypingDelay:     Range{80 * time.Millisecond, 250 * time.Millisecond},
		ScrollDistance:  IntRange{200, 600},
		BreakDuration:   Range{2 * time.Minute, 8 * time.Minute},
		BreakFrequency:  IntRange{5, 9},
		ViewDuration:    Range{3 * time.Second, 12 * time.Second},
		ActionDelay:     Range{4 * time.Second, 15 * time.Second},
		TypingErrorRate: 0.04,
	},
	"detailed": {
		Name:            "detailed",
		TypingDelay:     Range{120 * time.Millisecond, 320 * time.Millisecond},
		ScrollDistance:  IntRange{120, 400},
		BreakDuration:   Range{4 * time.Minute, 12 * time.Minute},
		BreakFrequency:  IntRange{4, 7},
		ViewDuration:    Range{8 * time.Second, 30 * time.Second},
		ActionDelay:     Range{6 * time.Second, 20 * time.Second},
		TypingErrorRate: 0.02,
	},
	"social": {
		Name:            "social",
		TypingDelay:     Range{60 * time.Millisecond, 180 * time.Millisecond},
		ScrollDistance:  IntRange{300, 900},
		BreakDuration:   Range{1 * time.Minute, 5 * time.Minute},
		BreakFrequency:  IntRange{8, 14},
		ViewDuration:    Range{2 * time.Second, 8 * time.Second},
		ActionDelay:     Range{3 * time.Second, 10 * time.Second},
		TypingErrorRate: 0.06,
	},
	"professional": {
		Name:            "professional",
		TypingDelay:     Range{90 * time.Millisecond, 200 * time.Millisecond},
		ScrollDistance:  IntRange{150, 500},
		BreakDuration:   Range{3 * time.Minute, 10 * time.Minute},
		BreakFrequency:  IntRange{6, 10},
		ViewDuration:    Range{5 * time.Second, 15 * time.Second},
		ActionDelay:     Range{5 * time.Second, 18 * time.Second},
		TypingErrorRate: 0.01,
	},
	"researcher": {
		Name:            "researcher",
		TypingDelay:     Range{100 * time.Millisecond, 280 * time.Millisecond},
		ScrollDistance:  IntRange{100, 350},
		BreakDuration:   Range{5 * time.Minute, 15 * time.Minute},
		BreakFrequency:  IntRange{3, 6},
		ViewDuration:    Range{10 * time.Second, 45 * time.Second},
		ActionDelay:     Range{8 * time.Second, 25 * time.Second},
		TypingErrorRate: 0.02,
	},
}

// ByName returns a preset. Unknown names fall back to "casual".
func ByName(name string) Profile {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets["casual"]
}

// Names lists the available presets.
func Names() []string {
	out := make([]string, 0, len(presets))
	for n := range presets {
		out = append(out, n)
	}
	return out
}

// Sampler draws concrete delays from a profile with its own rng, so
// concurrent workers never contend on a shared source.
type Sampler struct {
	p   Profile
	rng *rand.Rand
}

func NewSampler(p Profile, seed int64) *Sampler {
	return &Sampler{p: p, rng: rand.New(rand.NewSource(seed))}
}

func (s *Sampler) Profile() Profile { return s.p }

func (s *Sampler) sample(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(s.rng.Int63n(int64(r.Max-r.Min)+1))
}

// ActionDelay samples the pause inserted between consecutive actions.
func (s *Sampler) ActionDelay() time.Duration { return s.sample(s.p.ActionDelay) }

// BreakDuration samples the length of a rest.
func (s *Sampler) BreakDuration() time.Duration { return s.sample(s.p.BreakDuration) }

// ViewDuration samples how long content is inspected.
func (s *Sampler) ViewDuration() time.Duration { return s.sample(s.p.ViewDuration) }

// TypingDelay samples one keystroke pause.
func (s *Sampler) TypingDelay() time.Duration { return s.sample(s.p.TypingDelay) }

// BreakFrequency samples how many actions to run before the next break.
func (s *Sampler) BreakFrequency() int {
	r := s.p.BreakFrequency
	if r.Max <= r.Min {
		if r.Min < 1 {
			return 1
		}
		return r.Min
	}
	return r.Min + s.rng.Intn(r.Max-r.Min+1)
}

// ScrollDistance samples one scroll gesture span.
func (s *Sampler) ScrollDistance() int {
	r := s.p.ScrollDistance
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + s.rng.Intn(r.Max-r.Min+1)
}

// Mistype reports whether the next keystroke should be fumbled.
func (s *Sampler) Mistype() bool {
	return s.p.TypingErrorRate > 0 && s.rng.Float64() < s.p.TypingErrorRate
}
