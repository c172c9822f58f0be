// Package pool keeps the registry of account-bound workers and picks the
// least-used eligible worker for each dispatch.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"outreachd/internal/model"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

var ErrDuplicateAccount = errors.New("worker already registered for account")

type Pool struct {
	mu      sync.Mutex
	workers map[string]*worker.Worker
	log     logx.Logger
}

func New(log logx.Logger) *Pool {
	return &Pool{
		workers: make(map[string]*worker.Worker),
		log:     log,
	}
}

// Register adds a worker. Duplicate account ids are rejected.
func (p *Pool) Register(w *worker.Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := w.AccountID()
	if _, ok := p.workers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, id)
	}
	p.workers[id] = w
	p.log.Info("worker registered",
		logx.String("account", id),
		logx.String("platform", string(w.Platform())),
		logx.Int("pool_size", len(p.workers)),
	)
	return nil
}

// Deregister stops any in-flight run and removes the worker.
func (p *Pool) Deregister(accountID string) {
	p.mu.Lock()
	w, ok := p.workers[accountID]
	delete(p.workers, accountID)
	size := len(p.workers)
	p.mu.Unlock()
	if !ok {
		return
	}
	w.Stop()
	p.log.Info("worker deregistered", logx.String("account", accountID), logx.Int("pool_size", size))
}

// Get returns the worker bound to the account, if registered.
func (p *Pool) Get(accountID string) (*worker.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[accountID]
	return w, ok
}

// Size returns the number of registered workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Acquire reserves and returns the eligible worker with the lowest usage
// score, or false when none qualifies. role == "" means the intervention has
// no role requirement. The call never blocks or queues: absence of a
// candidate is reported immediately.
//
// A worker is selectable only while !running && !needsAttention. The returned
// worker is reserved; the caller either runs it or calls Release.
func (p *Pool) Acquire(platformType model.Platform, role model.Role) (*worker.Worker, bool) {
	p.mu.Lock()
	candidates := make([]*worker.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Platform() != platformType {
			continue
		}
		if w.Running() || w.NeedsAttention() {
			continue
		}
		if role != "" && !w.HasRole(role) {
			continue
		}
		candidates = append(candidates, w)
	}
	p.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UsageScore() < candidates[j].UsageScore()
	})

	for _, w := range candidates {
		if !w.TryReserve() {
			continue
		}
		p.log.Debug("worker acquired",
			logx.String("account", w.AccountID()),
			logx.String("role", string(role)),
			logx.Float64("usage", w.UsageScore()),
		)
		return w, true
	}
	return nil, false
}

// StopAll stops every registered worker (shutdown path).
func (p *Pool) StopAll() {
	p.mu.Lock()
	ws := make([]*worker.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		ws = append(ws, w)
	}
	p.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
}
