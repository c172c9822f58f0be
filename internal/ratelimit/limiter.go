package ratelimit

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outreachd/internal/model"
	logx "outreachd/pkg/logx"
)

// Decision is the admission verdict for a single prospective action.
// When not allowed, SecondsToReset says how long until the daily counters
// sweep clears the budget again.
type Decision struct {
	Allowed        bool
	SecondsToReset int
}

// Service keeps per-account, per-action-type daily counters and scores how
// much of its daily budget an account has burned. Counters are cleared by a
// cron sweep at the local midnight boundary.
//
// Safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	limits Limits
	counts map[string]map[model.ActionType]int

	log   logx.Logger
	clock func() time.Time

	cron *cron.Cron
}

type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(limits Limits, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		limits: limits,
		counts: make(map[string]map[model.ActionType]int),
		log:    log,
		clock:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start arms the daily counter-reset sweep. Idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.cron = cron.New()
	// Midnight local time: the fixed wall-clock daily boundary.
	_, _ = s.cron.AddFunc("0 0 * * *", s.ResetAll)
	s.cron.Start()
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps the limit tables at runtime (config hot reload). Counters are
// kept; only budgets and activity windows change.
func (s *Service) Apply(limits Limits) {
	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
}

// CanPerform decides whether the account may perform one more action of the
// given type right now. Types without any configured maximum are always
// allowed.
func (s *Service) CanPerform(accountID string, p model.Platform, t model.ActionType) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	max, ok := s.limits.maxFor(p, t)
	if !ok {
		return Decision{Allowed: true}
	}
	current := s.counts[accountID][t]
	if current < max {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, SecondsToReset: s.secondsToMidnightLocked()}
}

// Track increments the account's counter for the type unconditionally, even
// for unlimited types, so the usage score reflects all activity.
func (s *Service) Track(accountID string, t model.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.counts[accountID]
	if m == nil {
		m = make(map[model.ActionType]int)
		s.counts[accountID] = m
	}
	m[t]++
}

// Count returns the tracked count for one account and type.
func (s *Service) Count(accountID string, t model.ActionType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[accountID][t]
}

// UsagePercent is the weighted share of the account's daily budget consumed
// on the given platform, clamped to [0,100]. Accounts with no tracked
// activity score 0.
func (s *Service) UsagePercent(accountID string, p model.Platform) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := s.counts[accountID]
	if len(counts) == 0 {
		return 0
	}

	var used, budget float64
	for t, max := range s.limits.limitedTypes(p) {
		w := s.limits.weightFor(t)
		used += float64(counts[t]) * w
		budget += float64(max) * w
	}
	if budget <= 0 {
		return 0
	}
	pct := used / budget * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ResetAll clears every account's counters (the daily sweep).
func (s *Service) ResetAll() {
	s.mu.Lock()
	n := len(s.counts)
	s.counts = make(map[string]map[model.ActionType]int)
	s.mu.Unlock()
	if !s.log.IsZero() {
		s.log.Info("daily action counters reset", logx.Int("accounts", n))
	}
}

// IsActiveHour reports whether the current hour is inside the configured
// activity window.
func (s *Service) IsActiveHour() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsHour(s.limits.ActiveHours, s.clock().Hour())
}

// IsPeakHour reports whether the current hour is one of the peak hours.
func (s *Service) IsPeakHour() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsHour(s.limits.PeakHours, s.clock().Hour())
}

// SecondsToNextActiveHour returns the non-negative delta to the start of the
// next configured active hour. When no active hour remains today, it wraps to
// the first active hour of the following day.
func (s *Service) SecondsToNextActiveHour() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	hours := s.limits.ActiveHours
	if len(hours) == 0 {
		return 0
	}
	now := s.clock()
	cur := now.Hour()

	next := -1
	first := 24
	for _, h := range hours {
		if h < 0 || h > 23 {
			continue
		}
		if h < first {
			first = h
		}
		if h > cur && (next == -1 || h < next) {
			next = h
		}
	}

	day := now
	target := next
	if next == -1 {
		// Nothing left today: first active hour tomorrow.
		day = now.AddDate(0, 0, 1)
		target = first
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), target, 0, 0, 0, now.Location())
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// secondsToMidnightLocked computes the wait until the next daily sweep.
// Call with s.mu held.
func (s *Service) secondsToMidnightLocked() int {
	now := s.clock()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	sec := int(next.Sub(now) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}
