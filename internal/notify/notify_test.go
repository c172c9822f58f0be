package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"outreachd/internal/eventbus"
	"outreachd/internal/model"
	"outreachd/internal/scheduler"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *captureSender) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *captureSender) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQuarantineEventBecomesAlert(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender := &captureSender{}
	s := New(Config{Enabled: true, RatePerSec: 100}, sender, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TypeWorkerQuarantine, Data: worker.Event{
		AccountID: "acct-1",
		Platform:  model.PlatformInstagram,
		Reason:    "checkpoint required",
	}})

	waitFor(t, "quarantine alert", func() bool { return len(sender.messages()) == 1 })
	msg := sender.messages()[0]
	if !strings.Contains(msg, "acct-1") || !strings.Contains(msg, "checkpoint required") {
		t.Fatalf("alert = %q", msg)
	}
}

func TestRunFailureBecomesAlert(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender := &captureSender{}
	s := New(Config{Enabled: true, RatePerSec: 100}, sender, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TypeRunFailed, Data: scheduler.RunEvent{
		InterventionID: "iv-1",
		CampaignID:     "camp-1",
		Kind:           scheduler.KindInterventionFailed,
		Error:          "login: temporarily unreachable",
	}})
	// Completions are routine; they must not ping the operator.
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: scheduler.RunEvent{
		InterventionID: "iv-2",
	}})

	waitFor(t, "failure alert", func() bool { return len(sender.messages()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := sender.messages(); len(got) != 1 || !strings.Contains(got[0], "iv-1") {
		t.Fatalf("alerts = %v", got)
	}
}

func TestDisabledServiceRejectsNotify(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, &captureSender{}, eventbus.New(), logx.Nop())
	s.Start(context.Background())
	if err := s.Notify("hello"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestFullQueueDropsAlert(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	// Sender that blocks forever so the queue stays full.
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	s := New(Config{Enabled: true, QueueSize: 1, RatePerSec: 1}, senderFunc(func(ctx context.Context, _ string) error {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		return nil
	}), bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() {
		// The blocked sender never drains; stop with an expired deadline.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	// First fill may be consumed by the send loop; keep pushing until the
	// queue rejects.
	waitFor(t, "queue saturation", func() bool {
		return errors.Is(s.Notify("x"), ErrQueueFull)
	})
}

type senderFunc func(ctx context.Context, text string) error

func (f senderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }
