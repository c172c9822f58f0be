package pool

import (
	"errors"
	"testing"

	"outreachd/internal/eventbus"
	"outreachd/internal/model"
	"outreachd/internal/platform"
	"outreachd/internal/ratelimit"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

func allHours() []int {
	hs := make([]int, 24)
	for i := range hs {
		hs[i] = i
	}
	return hs
}

func newWorker(limiter *ratelimit.Service, account string, p model.Platform, roles ...model.Role) *worker.Worker {
	cfg := worker.Config{AccountID: account, Platform: p, Roles: roles, Profile: "casual"}
	return worker.New(cfg, platform.NewFake(p), limiter, nil, eventbus.New(), logx.Nop())
}

func newLimiter() *ratelimit.Service {
	return ratelimit.New(ratelimit.Limits{
		Defaults:    map[model.ActionType]int{model.ActionLikePost: 10},
		ActiveHours: allHours(),
	}, logx.Nop())
}

func TestRegisterRejectsDuplicateAccount(t *testing.T) {
	t.Parallel()
	p := New(logx.Nop())
	lim := newLimiter()
	if err := p.Register(newWorker(lim, "a1", model.PlatformInstagram, model.RoleEngagement)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := p.Register(newWorker(lim, "a1", model.PlatformInstagram, model.RoleEngagement))
	if !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("err = %v, want ErrDuplicateAccount", err)
	}
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}
}

func TestAcquirePicksLowestUsage(t *testing.T) {
	t.Parallel()
	lim := newLimiter()
	p := New(logx.Nop())

	busy := newWorker(lim, "hot", model.PlatformInstagram, model.RoleEngagement)
	idle := newWorker(lim, "cold", model.PlatformInstagram, model.RoleEngagement)
	if err := p.Register(busy); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(idle); err != nil {
		t.Fatal(err)
	}

	// Burn 40% of "hot"'s like budget, 10% of "cold"'s.
	for i := 0; i < 4; i++ {
		lim.Track("hot", model.ActionLikePost)
	}
	lim.Track("cold", model.ActionLikePost)

	got, ok := p.Acquire(model.PlatformInstagram, model.RoleEngagement)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if got.AccountID() != "cold" {
		t.Fatalf("acquired %s, want the least-used worker", got.AccountID())
	}
}

func TestAcquireFiltersPlatformRoleAndFlags(t *testing.T) {
	t.Parallel()
	lim := newLimiter()
	p := New(logx.Nop())

	scraper := newWorker(lim, "scraper", model.PlatformInstagram, model.RoleScrapping)
	messenger := newWorker(lim, "messenger", model.PlatformInstagram, model.RoleMessaging)
	tiktok := newWorker(lim, "tiktok", model.PlatformTikTok, model.RoleMessaging)
	for _, w := range []*worker.Worker{scraper, messenger, tiktok} {
		if err := p.Register(w); err != nil {
			t.Fatal(err)
		}
	}

	// Messaging on instagram must never land on the scraper, even though the
	// scraper is idle on the right platform.
	got, ok := p.Acquire(model.PlatformInstagram, model.RoleMessaging)
	if !ok || got.AccountID() != "messenger" {
		t.Fatalf("acquired %v/%v, want messenger", got, ok)
	}

	// No role requirement: any idle worker of the platform qualifies.
	if _, ok := p.Acquire(model.PlatformInstagram, ""); !ok {
		t.Fatal("role-less acquire should find a candidate")
	}

	// Wrong platform entirely.
	if _, ok := p.Acquire(model.PlatformX, ""); ok {
		t.Fatal("no X workers are registered")
	}
}

func TestAcquireReservesWorker(t *testing.T) {
	t.Parallel()
	lim := newLimiter()
	p := New(logx.Nop())
	if err := p.Register(newWorker(lim, "a1", model.PlatformInstagram, model.RoleEngagement)); err != nil {
		t.Fatal(err)
	}

	w, ok := p.Acquire(model.PlatformInstagram, "")
	if !ok {
		t.Fatal("expected a candidate")
	}
	// Reserved but not yet running: a second cycle must not double-book it.
	if _, ok := p.Acquire(model.PlatformInstagram, ""); ok {
		t.Fatal("reserved worker was acquired twice")
	}
	w.Release()
	if _, ok := p.Acquire(model.PlatformInstagram, ""); !ok {
		t.Fatal("released worker should be acquirable again")
	}
}

func TestDeregisterRemovesWorker(t *testing.T) {
	t.Parallel()
	lim := newLimiter()
	p := New(logx.Nop())
	if err := p.Register(newWorker(lim, "a1", model.PlatformInstagram, model.RoleEngagement)); err != nil {
		t.Fatal(err)
	}
	p.Deregister("a1")
	if p.Size() != 0 {
		t.Fatalf("size = %d, want 0", p.Size())
	}
	if _, ok := p.Acquire(model.PlatformInstagram, ""); ok {
		t.Fatal("deregistered worker must not be acquirable")
	}
	// Deregistering an unknown account is a no-op.
	p.Deregister("missing")
}
