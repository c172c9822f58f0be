package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/eventbus"
	"outreachd/internal/model"
	"outreachd/internal/platform"
	"outreachd/internal/profile"
	"outreachd/internal/ratelimit"
	logx "outreachd/pkg/logx"
)

var (
	ErrBusy = errors.New("worker already running an intervention")

	// ErrBlocked wraps a platform challenge: the whole run aborts and the
	// worker is quarantined until an operator clears it.
	ErrBlocked = errors.New("blocking platform error")
)

// rateLimitMargin is added on top of the limiter's reset estimate before the
// single admission retry, so we never race the sweep.
const rateLimitMargin = 60 * time.Second

// actionLogCap bounds the per-worker recent action ring.
const actionLogCap = 10

// Event is the payload published on the bus for worker lifecycle events.
type Event struct {
	AccountID string
	Platform  model.Platform
	Reason    string
}

// ActionRecord is one entry of the recent action log, most-recent-first.
type ActionRecord struct {
	Type   model.ActionType
	Target string
	At     time.Time
	Err    string
}

type Config struct {
	AccountID   string
	Platform    model.Platform
	Roles       []model.Role
	Credentials platform.Credentials
	Profile     string // behavior preset name
}

// Worker executes one intervention at a time against a single platform
// account, pacing itself like a human and consulting the rate limiter before
// every action.
type Worker struct {
	cfg        Config
	client     platform.Client
	limiter    *ratelimit.Service
	classifier platform.Classifier
	bus        eventbus.Bus
	log        logx.Logger
	sampler    *profile.Sampler

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	running        bool
	reserved       bool
	needsAttention bool
	loggedIn       bool
	actionCount    int
	lastActionAt   time.Time
	recent         []ActionRecord
	cancel         context.CancelFunc
}

type Option func(*Worker)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

// WithSleep overrides the pacing sleep (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// WithSeed fixes the sampler rng seed (tests).
func WithSeed(seed int64) Option {
	return func(w *Worker) { w.sampler = profile.NewSampler(profile.ByName(w.cfg.Profile), seed) }
}

func New(cfg Config, client platform.Client, limiter *ratelimit.Service, classifier platform.Classifier, bus eventbus.Bus, log logx.Logger, opts ...Option) *Worker {
	if classifier == nil {
		classifier = platform.KeywordClassifier{}
	}
	w := &Worker{
		cfg:        cfg,
		client:     client,
		limiter:    limiter,
		classifier: classifier,
		bus:        bus,
		log:        log.With(logx.String("account", cfg.AccountID), logx.String("platform", string(cfg.Platform))),
		sampler:    profile.NewSampler(profile.ByName(cfg.Profile), time.Now().UnixNano()),
		clock:      time.Now,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Worker) AccountID() string        { return w.cfg.AccountID }
func (w *Worker) Platform() model.Platform { return w.cfg.Platform }

func (w *Worker) HasRole(r model.Role) bool {
	for _, have := range w.cfg.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// TryReserve marks the worker as taken for an imminent run so two dispatch
// cycles cannot double-book it. Run consumes the reservation; Release drops
// an unconsumed one.
func (w *Worker) TryReserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.reserved || w.needsAttention {
		return false
	}
	w.reserved = true
	return true
}

// Release drops a reservation whose run never started.
func (w *Worker) Release() {
	w.mu.Lock()
	w.reserved = false
	w.mu.Unlock()
}

func (w *Worker) NeedsAttention() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.needsAttention
}

// ClearAttention lifts the quarantine. There is no automatic recovery; an
// operator clears the flag once the account checkpoint is resolved.
func (w *Worker) ClearAttention() {
	w.mu.Lock()
	w.needsAttention = false
	w.mu.Unlock()
	w.log.Info("attention flag cleared")
	w.publish(eventbus.TypeWorkerAvailable, "attention cleared")
}

// UsageScore is the weighted share of the account's daily budget consumed.
func (w *Worker) UsageScore() float64 {
	return w.limiter.UsagePercent(w.cfg.AccountID, w.cfg.Platform)
}

// RecentActions returns a copy of the action log, most-recent-first.
func (w *Worker) RecentActions() []ActionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ActionRecord, len(w.recent))
	copy(out, w.recent)
	return out
}

// Stop cancels the in-flight run (observed at the next pacing checkpoint; an
// action already in progress finishes first) and releases the session.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.reserved = false
	w.loggedIn = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = w.client.Close()
}

// Run executes the intervention's actions in order. It returns the qualified
// leads, the non-blocking action errors, and a fatal error when the run was
// aborted (blocking failure or cancellation).
func (w *Worker) Run(ctx context.Context, iv model.Intervention) ([]model.Lead, []error, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.reserved = false
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.running = false
		w.cancel = nil
		w.mu.Unlock()
	}()

	log := w.log.With(logx.String("intervention", iv.ID))
	log.Info("run started", logx.Int("actions", len(iv.Actions)))

	if err := w.ensureLoggedIn(runCtx, iv); err != nil {
		if platform.IsChallenge(err) {
			w.quarantine(log, err)
			return nil, nil, fmt.Errorf("%w: login: %v", ErrBlocked, err)
		}
		return nil, nil, fmt.Errorf("login: %w", err)
	}

	breakEvery := w.sampler.BreakFrequency()

	var leads []model.Lead
	var actionErrs []error

	for i, action := range iv.Actions {
		if err := runCtx.Err(); err != nil {
			return leads, actionErrs, err
		}

		if err := w.waitForActiveHours(runCtx, log); err != nil {
			return leads, actionErrs, err
		}
		if err := w.maybeBreak(runCtx, log, breakEvery); err != nil {
			return leads, actionErrs, err
		}
		if err := w.admit(runCtx, log, action.Type); err != nil {
			if errors.Is(err, runCtx.Err()) && runCtx.Err() != nil {
				return leads, actionErrs, err
			}
			// Still over budget after the one retry: record and move on.
			actionErrs = append(actionErrs, err)
			w.finishAction(action, err)
			continue
		}

		found, err := w.execute(runCtx, iv, action)
		if err != nil {
			if platform.IsChallenge(err) {
				w.finishAction(action, err)
				w.quarantine(log, err)
				return leads, actionErrs, fmt.Errorf("%w: %s: %v", ErrBlocked, action.Type, err)
			}
			log.Warn("action failed", logx.String("type", string(action.Type)), logx.Err(err))
			actionErrs = append(actionErrs, fmt.Errorf("%s: %w", action.Type, err))
		} else {
			leads = append(leads, found...)
			log.Debug("action done",
				logx.String("type", string(action.Type)),
				logx.Int("leads", len(found)),
				logx.Int("step", i+1),
			)
		}

		w.finishAction(action, err)

		if err := w.sleep(runCtx, w.sampler.ActionDelay()); err != nil {
			return leads, actionErrs, err
		}
	}

	log.Info("run finished", logx.Int("leads", len(leads)), logx.Int("action_errors", len(actionErrs)))
	w.publish(eventbus.TypeWorkerAvailable, "run finished")
	return leads, actionErrs, nil
}

// ensureLoggedIn authenticates once per session. All-mock interventions skip
// the login entirely.
func (w *Worker) ensureLoggedIn(ctx context.Context, iv model.Intervention) error {
	if iv.AllMock() {
		return nil
	}
	w.mu.Lock()
	logged := w.loggedIn
	w.mu.Unlock()
	if logged {
		return nil
	}

	if err := w.client.Login(ctx, w.cfg.Credentials); err != nil {
		return err
	}
	if err := w.client.VerifyLogin(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.loggedIn = true
	w.mu.Unlock()
	w.log.Info("logged in")
	return nil
}

func (w *Worker) waitForActiveHours(ctx context.Context, log logx.Logger) error {
	for !w.limiter.IsActiveHour() {
		wait := time.Duration(w.limiter.SecondsToNextActiveHour()) * time.Second
		if wait <= 0 {
			return nil
		}
		log.Info("outside active hours, waiting", logx.Duration("wait", wait))
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// maybeBreak rests when a full break-frequency batch of actions has run and
// the account has not already been idle past the profile's break ceiling.
func (w *Worker) maybeBreak(ctx context.Context, log logx.Logger, breakEvery int) error {
	w.mu.Lock()
	count := w.actionCount
	last := w.lastActionAt
	w.mu.Unlock()

	if breakEvery <= 0 || count == 0 || count%breakEvery != 0 {
		return nil
	}
	if !last.IsZero() && w.clock().Sub(last) >= w.sampler.Profile().BreakDuration.Max {
		return nil
	}
	d := w.sampler.BreakDuration()
	log.Debug("taking a break", logx.Duration("for", d), logx.Int("actions", count))
	return w.sleep(ctx, d)
}

// admit asks the rate limiter for permission. When denied it waits out the
// reset (plus margin) and retries exactly once; a second denial is returned
// to the caller as a non-blocking error.
func (w *Worker) admit(ctx context.Context, log logx.Logger, t model.ActionType) error {
	d := w.limiter.CanPerform(w.cfg.AccountID, w.cfg.Platform, t)
	if d.Allowed {
		return nil
	}
	wait := time.Duration(d.SecondsToReset)*time.Second + rateLimitMargin
	log.Info("rate limited, waiting for reset",
		logx.String("type", string(t)),
		logx.Duration("wait", wait),
	)
	if err := w.sleep(ctx, wait); err != nil {
		return err
	}
	if d = w.limiter.CanPerform(w.cfg.AccountID, w.cfg.Platform, t); d.Allowed {
		return nil
	}
	return fmt.Errorf("rate limit still exceeded for %s after reset wait", t)
}

// finishAction updates counters, tracking and the recent-action ring after
// every attempt, success or not. Unlimited action types are tracked too, so
// the usage score reflects all activity.
func (w *Worker) finishAction(a model.Action, err error) {
	now := w.clock()
	rec := ActionRecord{Type: a.Type, Target: actionTarget(a), At: now}
	if err != nil {
		rec.Err = err.Error()
	}

	w.mu.Lock()
	w.actionCount++
	w.lastActionAt = now
	w.recent = append([]ActionRecord{rec}, w.recent...)
	if len(w.recent) > actionLogCap {
		w.recent = w.recent[:actionLogCap]
	}
	w.mu.Unlock()

	w.limiter.Track(w.cfg.AccountID, a.Type)
}

func (w *Worker) quarantine(log logx.Logger, cause error) {
	w.mu.Lock()
	w.needsAttention = true
	w.mu.Unlock()
	log.Error("blocking failure, worker needs attention", logx.Err(cause))
	w.publish(eventbus.TypeWorkerQuarantine, cause.Error())
}

func (w *Worker) publish(eventType, reason string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{
		Type: eventType,
		Data: Event{AccountID: w.cfg.AccountID, Platform: w.cfg.Platform, Reason: reason},
	})
}

func actionTarget(a model.Action) string {
	switch {
	case a.Username != "":
		return a.Username
	case a.Hashtag != "":
		return a.Hashtag
	default:
		return a.PostID
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// newLead stamps a discovered profile with attribution and a fresh id.
func (w *Worker) newLead(iv model.Intervention, src model.ActionType, p platform.UserProfile) model.Lead {
	return model.Lead{
		ID:             uuid.NewString(),
		AccountID:      w.cfg.AccountID,
		PlatformID:     p.ID,
		Username:       p.Username,
		FullName:       p.FullName,
		Followers:      p.Followers,
		Posts:          p.Posts,
		SourceAction:   src,
		InterventionID: iv.ID,
		DiscoveredAt:   w.clock(),
	}
}
