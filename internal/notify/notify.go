// Package notify pushes operational alerts (worker quarantines, terminal
// intervention failures) to a Telegram chat. Delivery is best-effort: a full
// queue drops the alert rather than slowing the scheduler.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"outreachd/internal/eventbus"
	rtsup "outreachd/internal/runtime/supervisor"
	"outreachd/internal/scheduler"
	"outreachd/internal/worker"
	logx "outreachd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

type Config struct {
	Enabled    bool
	RatePerSec int
	QueueSize  int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	return c
}

// Sender is the outbound message hook; the telebot client satisfies it in
// production and tests inject their own.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type teleSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func (t *teleSender) Send(_ context.Context, text string) error {
	_, err := t.bot.Send(t.chat, text, tele.ModeMarkdown)
	return err
}

// NewTelegramSender builds the production sender. An empty token is an error;
// callers decide whether to treat that as disabled.
func NewTelegramSender(token string, chatID int64) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		// Outbound-only bot: updates are never polled.
		Synchronous: true,
	})
	if err != nil {
		return nil, err
	}
	return &teleSender{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

// Service is the async alert pipeline: bus subscription -> queue -> single
// rate-limited sender loop.
type Service struct {
	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan string
	accepting bool
	sup       *rtsup.Supervisor
	unsub     func()

	dropped uint64
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "notify")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.sender != nil }

// Start spawns the send loop and the bus listener. Idempotent; a disabled
// service starts nothing.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		s.log.Debug("notifier disabled")
		return
	}

	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true
	q := s.queue
	s.mu.Unlock()

	// Alert failures must never take the scheduler down.
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))

	events, unsub := s.bus.Subscribe(32)
	s.unsub = unsub

	s.sup.Go("listen", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if text := render(e); text != "" {
					_ = s.Notify(text)
				}
			}
		}
	})

	s.sup.Go("send", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case text, ok := <-q:
				if !ok {
					return nil
				}
				if err := s.limiter.Wait(ctx); err != nil {
					return nil
				}
				if err := s.sender.Send(ctx, text); err != nil {
					s.log.Warn("alert send failed", logx.Err(err))
				}
			}
		}
	})

	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Notify enqueues one alert. Full queue drops.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()
	if q == nil || !accepting {
		return ErrDisabled
	}
	select {
	case q <- text:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.log.Warn("alert dropped (queue full)", logx.Any("dropped_total", n))
		return ErrQueueFull
	}
}

// Stop blocks intake, drains queued alerts best-effort until ctx expires,
// then stops the loops.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	if s.unsub != nil {
		s.unsub()
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
drain:
	for len(q) > 0 {
		select {
		case <-ctx.Done():
			break drain
		case <-tick.C:
		}
	}

	if s.sup != nil {
		s.sup.Cancel()
		_ = s.sup.Wait(context.Background())
	}
}

// render turns a bus event into alert text, or "" for event types that do not
// warrant an operator ping.
func render(e eventbus.Event) string {
	switch e.Type {
	case eventbus.TypeWorkerQuarantine:
		we, ok := e.Data.(worker.Event)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⛔ *worker quarantined*\naccount: `%s`\nplatform: %s\nreason: %s",
			we.AccountID, we.Platform, we.Reason)
	case eventbus.TypeRunFailed:
		re, ok := e.Data.(scheduler.RunEvent)
		if !ok {
			return ""
		}
		return fmt.Sprintf("❌ *intervention failed*\nintervention: `%s`\ncampaign: `%s`\nkind: %s\n%s",
			re.InterventionID, re.CampaignID, re.Kind, re.Error)
	default:
		return ""
	}
}
