package config

import (
	"fmt"
	"strings"
	"time"

	"outreachd/internal/model"
	"outreachd/internal/ratelimit"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Limits    LimitsConfig    `json:"limits,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Workers   []WorkerConfig  `json:"workers"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file,omitempty"`
}

type StoreConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls queue refresh and retry behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	// RefreshCron is the periodic queue-refresh schedule (standard 5-field
	// cron). Default: every minute.
	RefreshCron string `json:"refresh_cron,omitempty"`

	RetryMax int `json:"retry_max,omitempty"`

	// Retention keeps terminal queue items visible this long.
	Retention string `json:"retention,omitempty"`

	// IdleRearmDelay is added past the next start date when arming the idle
	// wake-up timer.
	IdleRearmDelay string `json:"idle_rearm_delay,omitempty"`
}

// LimitsConfig overrides the built-in rate-limit tables. Empty sections keep
// the defaults.
type LimitsConfig struct {
	Defaults    map[string]int            `json:"defaults,omitempty"`
	Platforms   map[string]map[string]int `json:"platforms,omitempty"`
	Weights     map[string]float64        `json:"weights,omitempty"`
	ActiveHours []int                     `json:"active_hours,omitempty"`
	PeakHours   []int                     `json:"peak_hours,omitempty"`
}

// NotifyConfig controls the Telegram ops alert channel. An empty token
// disables it.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type WorkerConfig struct {
	AccountID string   `json:"account_id"`
	Platform  string   `json:"platform"`
	Roles     []string `json:"roles"`
	Username  string   `json:"username,omitempty"`
	Password  string   `json:"password,omitempty"`
	// Profile names a behavior preset (casual, detailed, social,
	// professional, researcher). Default: casual.
	Profile string `json:"profile,omitempty"`
}

// Durations resolves the scheduler duration strings, applying defaults.
func (c SchedulerConfig) Durations() (retention, idleRearm time.Duration, err error) {
	retention, err = parseDurationOrDefault("scheduler.retention", c.Retention, time.Hour)
	if err != nil {
		return 0, 0, err
	}
	idleRearm, err = parseDurationOrDefault("scheduler.idle_rearm_delay", c.IdleRearmDelay, 10*time.Second)
	if err != nil {
		return 0, 0, err
	}
	return retention, idleRearm, nil
}

// Limits merges the config overrides over the built-in tables.
func (c LimitsConfig) Limits() ratelimit.Limits {
	lim := ratelimit.DefaultLimits()
	for k, v := range c.Defaults {
		lim.Defaults[model.ActionType(k)] = v
	}
	for p, tbl := range c.Platforms {
		dst := lim.Platforms[model.Platform(p)]
		if dst == nil {
			dst = map[model.ActionType]int{}
			lim.Platforms[model.Platform(p)] = dst
		}
		for k, v := range tbl {
			dst[model.ActionType(k)] = v
		}
	}
	for k, v := range c.Weights {
		lim.Weights[model.ActionType(k)] = v
	}
	if len(c.ActiveHours) > 0 {
		lim.ActiveHours = c.ActiveHours
	}
	if len(c.PeakHours) > 0 {
		lim.PeakHours = c.PeakHours
	}
	return lim
}

// Validate rejects configs that cannot be applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	if _, err := parseDurationOrDefault("store.busy_timeout", c.Store.BusyTimeout, 0); err != nil {
		return err
	}
	if _, _, err := c.Scheduler.Durations(); err != nil {
		return err
	}
	if c.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	for _, h := range append(append([]int{}, c.Limits.ActiveHours...), c.Limits.PeakHours...) {
		if h < 0 || h > 23 {
			return fmt.Errorf("limits: hour %d out of range 0..23", h)
		}
	}
	if c.Notify.Enabled && strings.TrimSpace(c.Notify.Token) == "" {
		return fmt.Errorf("notify.token is required when notify is enabled")
	}
	seen := map[string]bool{}
	for i, w := range c.Workers {
		if strings.TrimSpace(w.AccountID) == "" {
			return fmt.Errorf("workers[%d]: account_id is required", i)
		}
		if seen[w.AccountID] {
			return fmt.Errorf("workers[%d]: duplicate account_id %q", i, w.AccountID)
		}
		seen[w.AccountID] = true
		switch model.Platform(strings.ToUpper(w.Platform)) {
		case model.PlatformInstagram, model.PlatformTikTok, model.PlatformX:
		default:
			return fmt.Errorf("workers[%d]: unknown platform %q", i, w.Platform)
		}
		for _, r := range w.Roles {
			switch model.Role(strings.ToUpper(r)) {
			case model.RoleScrapping, model.RoleEngagement, model.RoleMessaging:
			default:
				return fmt.Errorf("workers[%d]: unknown role %q", i, r)
			}
		}
	}
	return nil
}

// ParseDuration resolves a Go duration string field; empty means zero.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
