// Package scheduler owns the in-memory intervention queue: it decides what
// is due, in which order it dispatches, and how failures are retried.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"outreachd/internal/eventbus"
	"outreachd/internal/model"
	"outreachd/internal/pool"
	rtsup "outreachd/internal/runtime/supervisor"
	"outreachd/internal/store"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

type Service struct {
	cfg  Config
	repo store.Repository
	pool *pool.Pool
	bus  eventbus.Bus
	log  logx.Logger

	clock func() time.Time

	state atomic.Int32

	mu    sync.Mutex
	items map[string]*QueueItem // keyed by intervention id

	// Idle rearm timer: at most one outstanding; the version counter makes
	// stale callbacks from a replaced timer no-ops.
	tmu       sync.Mutex
	idleTimer *time.Timer
	idleVer   uint64

	sup      *rtsup.Supervisor
	unsub    func()
	stopOnce sync.Once

	dispatched  atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	retried     atomic.Uint64
	noWorker    atomic.Uint64
	leadsStored atomic.Uint64
}

type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(cfg Config, repo store.Repository, p *pool.Pool, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg.withDefaults(),
		repo:  repo,
		pool:  p,
		bus:   bus,
		log:   log.With(logx.String("comp", "scheduler")),
		clock: time.Now,
		items: make(map[string]*QueueItem),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns the event loop that reacts to worker availability and campaign
// updates. Intervention runs are spawned under the same supervisor.
func (s *Service) Start(ctx context.Context) {
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	events, unsub := s.bus.Subscribe(32)
	s.unsub = unsub
	s.sup.Go("events", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				switch e.Type {
				case eventbus.TypeWorkerAvailable:
					s.onWorkerAvailable(ctx)
				case eventbus.TypeCampaignUpdated:
					s.OnCampaignUpdate(ctx)
				}
			}
		}
	})

	s.log.Info("scheduler started")
}

// Stop cancels the idle timer, the event loop and every in-flight run, then
// waits for them to drain.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.cancelIdleTimer()
		if s.unsub != nil {
			s.unsub()
		}
		if s.sup != nil {
			s.sup.Cancel()
			if err := s.sup.Wait(ctx); err != nil {
				s.log.Warn("scheduler stop timed out", logx.Err(err))
				return
			}
		}
		s.log.Info("scheduler stopped")
	})
}

// State returns the current tri-state.
func (s *Service) State() State { return State(s.state.Load()) }

// ---- refresh ----

// RefreshQueue rebuilds the queue from the repository: running campaigns,
// due auto-start interventions. Re-entrant calls while a refresh or dispatch
// cycle is in progress are dropped.
func (s *Service) RefreshQueue(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRefreshing)) {
		s.log.Debug("refresh skipped", logx.String("state", s.State().String()))
		return nil
	}
	defer s.state.Store(int32(StateIdle))

	now := s.clock()
	s.cleanQueue(now)

	campaigns, err := s.repo.CampaignsDue(ctx, model.CampaignRunning, now)
	if err != nil {
		s.log.Error("refresh: loading campaigns failed", logx.Err(err))
		return err
	}

	seen := make(map[string]bool)
	added, replaced := 0, 0

	s.mu.Lock()
	for _, c := range campaigns {
		for _, iv := range c.Interventions {
			if iv.Status != model.InterventionPending || !iv.AutoStart || iv.StartDate.After(now) {
				continue
			}
			seen[iv.ID] = true

			if item, ok := s.items[iv.ID]; ok {
				if item.Intervention.Blocked || item.Intervention.Status == model.InterventionRunning {
					continue
				}
				// Replace the payload but preserve the enqueue timestamp so
				// FIFO fairness holds for equal priorities.
				item.Intervention = iv
				item.Platform = c.Platform
				item.Priority = computePriority(iv, now)
				replaced++
				continue
			}

			s.items[iv.ID] = &QueueItem{
				ID:           uuid.NewString(),
				Intervention: iv,
				Platform:     c.Platform,
				EnqueuedAt:   now,
				Priority:     computePriority(iv, now),
			}
			added++
		}
	}

	// Queued pending items the repository no longer reports are stale.
	evicted := 0
	for id, item := range s.items {
		if seen[id] {
			continue
		}
		if item.Intervention.Status == model.InterventionRunning || item.Intervention.Blocked {
			continue
		}
		if item.Intervention.Status.Terminal() {
			continue // retention handles these
		}
		delete(s.items, id)
		evicted++
	}
	depth := len(s.items)
	s.mu.Unlock()

	s.log.Debug("queue refreshed",
		logx.Int("added", added),
		logx.Int("replaced", replaced),
		logx.Int("evicted", evicted),
		logx.Int("depth", depth),
	)
	return nil
}

// cleanQueue evicts terminal items past the retention window.
func (s *Service) cleanQueue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if !item.Intervention.Status.Terminal() {
			continue
		}
		ref := item.CompletedAt
		if ref.IsZero() {
			ref = item.EnqueuedAt
		}
		if now.Sub(ref) > s.cfg.Retention {
			delete(s.items, id)
		}
	}
}

// computePriority starts at 5, subtracts age bonuses (overdue interventions
// climb), subtracts the importance factor, and clamps to [1,10].
func computePriority(iv model.Intervention, now time.Time) int {
	p := 5
	age := now.Sub(iv.StartDate)
	switch {
	case age > time.Hour:
		p -= 2
	case age > 30*time.Minute:
		p -= 1
	}
	p -= iv.ImportanceFactor
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// ---- dispatch ----

// Dispatch runs one dispatch cycle: pending items in (priority, enqueue-time)
// order, each assigned to the least-used eligible worker and started
// asynchronously. The cycle never blocks on an intervention's execution.
// A cycle already in progress makes this a no-op.
func (s *Service) Dispatch(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateExecuting)) {
		s.log.Debug("dispatch skipped", logx.String("state", s.State().String()))
		return nil
	}
	defer s.state.Store(int32(StateIdle))

	pending := s.pendingSorted()
	if len(pending) == 0 {
		s.onEmptyQueue(ctx)
		return nil
	}

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.dispatchOne(ctx, item)
	}
	return nil
}

// pendingSorted snapshots dispatchable items sorted by (priority, enqueuedAt).
func (s *Service) pendingSorted() []*QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*QueueItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Intervention.Status == model.InterventionPending && !item.Intervention.Blocked {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

func (s *Service) dispatchOne(ctx context.Context, item *QueueItem) {
	ivID := item.Intervention.ID
	log := s.log.With(logx.String("intervention", ivID))

	s.mu.Lock()
	item.Intervention.Blocked = true
	iv := item.Intervention
	platformType := item.Platform
	s.mu.Unlock()

	role, _ := model.RequiredRole(iv.Actions)

	w, ok := s.pool.Acquire(platformType, role)
	if !ok {
		// Not a retry: capacity waits cost no budget.
		now := s.clock()
		s.mu.Lock()
		item.Intervention.Blocked = false
		item.LastError = &LastError{Kind: KindSimulatorNotFound, Message: "no eligible worker", At: now}
		s.mu.Unlock()
		s.noWorker.Add(1)
		log.Info("no eligible worker", logx.String("role", string(role)))
		return
	}

	if err := s.repo.UpdateInterventionStatus(ctx, ivID, model.InterventionRunning); err != nil {
		w.Release()
		now := s.clock()
		s.mu.Lock()
		item.Intervention.Blocked = false
		item.LastError = &LastError{Kind: KindDatabaseError, Message: err.Error(), At: now}
		s.mu.Unlock()
		log.Error("persisting RUNNING failed", logx.Err(err))
		return
	}

	now := s.clock()
	s.mu.Lock()
	item.Intervention.Status = model.InterventionRunning
	item.AssignedWorker = w.AccountID()
	item.AssignedAt = now
	item.StartedAt = now
	s.mu.Unlock()

	s.dispatched.Add(1)
	log.Info("dispatched",
		logx.String("worker", w.AccountID()),
		logx.Int("priority", item.Priority),
		logx.String("role", string(role)),
	)

	// Fire and track: the dispatch loop moves on immediately; the run's
	// outcome flows back through OnFinish/OnError.
	s.sup.Go("run."+ivID, func(runCtx context.Context) error {
		leads, actionErrs, err := w.Run(runCtx, iv)
		if err != nil {
			s.OnError(runCtx, ivID, err)
			return nil
		}
		s.OnFinish(runCtx, ivID, leads, actionErrs)
		return nil
	})
}

// ---- completion ----

// OnFinish finalizes a successful run: persists COMPLETED, bulk-stores the
// leads and records timing. The two writes are not transactional; a lead
// write failure is surfaced loudly but the status stays COMPLETED.
func (s *Service) OnFinish(ctx context.Context, interventionID string, leads []model.Lead, actionErrs []error) {
	log := s.log.With(logx.String("intervention", interventionID))

	s.mu.Lock()
	item, ok := s.items[interventionID]
	s.mu.Unlock()
	if !ok {
		log.Warn("finish for unknown queue item", logx.String("kind", string(KindInvalidState)))
		return
	}

	if err := s.repo.UpdateInterventionStatus(ctx, interventionID, model.InterventionCompleted); err != nil {
		s.failItem(ctx, item, KindDatabaseError, err.Error(), false)
		return
	}
	if err := s.repo.SaveLeads(ctx, leads); err != nil {
		// Status already committed; the computed leads have no replay path.
		log.Error("lead batch lost after completion",
			logx.Int("leads", len(leads)),
			logx.Err(err),
		)
	} else {
		s.leadsStored.Add(uint64(len(leads)))
	}

	now := s.clock()
	s.mu.Lock()
	item.Intervention.Status = model.InterventionCompleted
	item.Intervention.Blocked = false
	item.Intervention.Progress = 1
	item.CompletedAt = now
	campaignID := item.Intervention.CampaignID
	took := item.Duration()
	s.mu.Unlock()

	s.completed.Add(1)
	log.Info("intervention completed",
		logx.Int("leads", len(leads)),
		logx.Int("action_errors", len(actionErrs)),
		logx.Duration("took", took),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: RunEvent{
		InterventionID: interventionID,
		CampaignID:     campaignID,
		Leads:          len(leads),
	}})
}

// OnError handles a failed run. Blocking failures are terminal immediately;
// anything else consumes one retry and re-enters the queue as PENDING until
// the budget is exhausted.
func (s *Service) OnError(ctx context.Context, interventionID string, runErr error) {
	log := s.log.With(logx.String("intervention", interventionID))

	s.mu.Lock()
	item, ok := s.items[interventionID]
	s.mu.Unlock()
	if !ok {
		log.Warn("error for unknown queue item", logx.String("kind", string(KindInvalidState)), logx.Err(runErr))
		return
	}

	kind := classify(runErr)
	if errors.Is(runErr, worker.ErrBlocked) {
		s.failItem(ctx, item, kind, runErr.Error(), true)
		return
	}

	s.mu.Lock()
	item.RetryCount++
	retries := item.RetryCount
	s.mu.Unlock()

	if retries >= s.cfg.RetryMax {
		s.failItem(ctx, item, kind, runErr.Error(), false)
		return
	}

	if err := s.repo.UpdateInterventionStatus(ctx, interventionID, model.InterventionPending); err != nil {
		log.Error("persisting PENDING for retry failed", logx.Err(err))
	}
	now := s.clock()
	s.mu.Lock()
	item.Intervention.Status = model.InterventionPending
	item.Intervention.Blocked = false
	item.AssignedWorker = ""
	item.LastError = &LastError{Kind: kind, Message: runErr.Error(), At: now}
	s.mu.Unlock()

	s.retried.Add(1)
	log.Warn("run failed, requeued",
		logx.Int("retry", retries),
		logx.Int("retry_max", s.cfg.RetryMax),
		logx.Err(runErr),
	)
}

// failItem marks the intervention terminally FAILED.
func (s *Service) failItem(ctx context.Context, item *QueueItem, kind ErrorKind, msg string, blocking bool) {
	ivID := item.Intervention.ID
	if err := s.repo.UpdateInterventionStatus(ctx, ivID, model.InterventionFailed); err != nil {
		s.log.Error("persisting FAILED failed", logx.String("intervention", ivID), logx.Err(err))
	}

	now := s.clock()
	s.mu.Lock()
	item.Intervention.Status = model.InterventionFailed
	item.Intervention.Blocked = false
	item.CompletedAt = now
	item.LastError = &LastError{Kind: kind, Message: msg, At: now}
	campaignID := item.Intervention.CampaignID
	retries := item.RetryCount
	s.mu.Unlock()

	s.failed.Add(1)
	s.log.Error("intervention failed terminally",
		logx.String("intervention", ivID),
		logx.String("kind", string(kind)),
		logx.Bool("blocking", blocking),
		logx.Int("retries", retries),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFailed, Data: RunEvent{
		InterventionID: ivID,
		CampaignID:     campaignID,
		Kind:           kind,
		Error:          msg,
	}})
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInterventionFailed
	}
}

// ---- triggers ----

// onEmptyQueue arms a one-shot timer 10s past the earliest future start date
// among pending auto-start interventions. The previous timer, if any, is
// cancelled first: at most one timer is ever outstanding.
func (s *Service) onEmptyQueue(ctx context.Context) {
	now := s.clock()
	// Look a year ahead so campaigns that have not started yet count too.
	campaigns, err := s.repo.CampaignsDue(ctx, model.CampaignRunning, now.AddDate(1, 0, 0))
	if err != nil {
		s.log.Error("idle scan failed", logx.Err(err))
		return
	}

	var earliest time.Time
	for _, c := range campaigns {
		for _, iv := range c.Interventions {
			if iv.Status != model.InterventionPending || !iv.AutoStart || !iv.StartDate.After(now) {
				continue
			}
			if earliest.IsZero() || iv.StartDate.Before(earliest) {
				earliest = iv.StartDate
			}
		}
	}
	if earliest.IsZero() {
		s.cancelIdleTimer()
		return
	}

	fireAt := earliest.Add(s.cfg.IdleRearmDelay)
	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleVer++
	ver := s.idleVer
	s.idleTimer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		stale := ver != s.idleVer
		s.tmu.Unlock()
		if stale {
			return
		}
		s.log.Debug("idle timer fired")
		wake := context.Background()
		if err := s.RefreshQueue(wake); err == nil {
			_ = s.Dispatch(wake)
		}
	})
	s.tmu.Unlock()

	s.log.Info("idle timer armed", logx.Time("fire_at", fireAt), logx.Duration("in", delay))
}

func (s *Service) cancelIdleTimer() {
	s.tmu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleVer++
	s.tmu.Unlock()
}

// IdleTimerArmed reports whether a rearm timer is outstanding.
func (s *Service) IdleTimerArmed() bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.idleTimer != nil
}

// onWorkerAvailable short-circuits the idle timer: a freed worker plus
// pending work means we can dispatch right now.
func (s *Service) onWorkerAvailable(ctx context.Context) {
	if s.pool.Size() == 0 || s.PendingCount() == 0 || s.State() != StateIdle {
		return
	}
	_ = s.Dispatch(ctx)
}

// OnCampaignUpdate reacts to a campaign edit from the control plane.
func (s *Service) OnCampaignUpdate(ctx context.Context) {
	if err := s.RefreshQueue(ctx); err != nil {
		return
	}
	if s.State() == StateIdle {
		_ = s.Dispatch(ctx)
	}
}

// PendingCount returns the number of dispatchable items.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.Intervention.Status == model.InterventionPending && !item.Intervention.Blocked {
			n++
		}
	}
	return n
}

// Item returns a copy of the queue item for an intervention.
func (s *Service) Item(interventionID string) (QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[interventionID]
	if !ok {
		return QueueItem{}, false
	}
	return *item, true
}

// Snapshot returns a diagnostic view of the queue and counters.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	items := make([]ItemSummary, 0, len(s.items))
	pending, running := 0, 0
	for _, item := range s.items {
		switch item.Intervention.Status {
		case model.InterventionPending:
			if !item.Intervention.Blocked {
				pending++
			}
		case model.InterventionRunning:
			running++
		}
		items = append(items, ItemSummary{
			InterventionID: item.Intervention.ID,
			Status:         item.Intervention.Status,
			Blocked:        item.Intervention.Blocked,
			Priority:       item.Priority,
			RetryCount:     item.RetryCount,
			AssignedWorker: item.AssignedWorker,
			EnqueuedAt:     item.EnqueuedAt,
			LastError:      item.LastError,
			Duration:       item.Duration(),
		})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].EnqueuedAt.Before(items[j].EnqueuedAt) })

	return Snapshot{
		State:   s.State(),
		Pending: pending,
		Running: running,
		Items:   items,
		Metrics: Metrics{
			Dispatched:  s.dispatched.Load(),
			Completed:   s.completed.Load(),
			Failed:      s.failed.Load(),
			Retried:     s.retried.Load(),
			NoWorker:    s.noWorker.Load(),
			LeadsStored: s.leadsStored.Load(),
		},
	}
}
