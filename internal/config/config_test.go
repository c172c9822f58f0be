package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"outreachd/internal/model"
	logx "outreachd/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
store:
  path: ./data/outreachd.db
  busy_timeout: 5s
scheduler:
  refresh_cron: "*/1 * * * *"
  retry_max: 3
  retention: 2h
  idle_rearm_delay: 15s
limits:
  defaults:
    LIKE_POST: 40
  platforms:
    TIKTOK:
      LIKE_POST: 25
  active_hours: [9, 12, 18]
workers:
  - account_id: acct-1
    platform: INSTAGRAM
    roles: [ENGAGEMENT, SCRAPPING]
    username: bot_one
    password: hunter2
    profile: casual
`

func writeConfig(t *testing.T, content string) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outreachd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path, logx.Nop()), path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m, _ := writeConfig(t, sampleYAML)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.RetryMax != 3 {
		t.Fatalf("retry_max = %d, want 3", cfg.Scheduler.RetryMax)
	}
	retention, rearm, err := cfg.Scheduler.Durations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if retention != 2*time.Hour || rearm != 15*time.Second {
		t.Fatalf("durations = %v/%v", retention, rearm)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].AccountID != "acct-1" {
		t.Fatalf("workers = %+v", cfg.Workers)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get() did not return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m, _ := writeConfig(t, `
store:
  path: ./db
typo_section:
  oops: true
`)
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing store path", func(c *Config) { c.Store.Path = "" }, false},
		{"negative retry", func(c *Config) { c.Scheduler.RetryMax = -1 }, false},
		{"bad duration", func(c *Config) { c.Scheduler.Retention = "soon" }, false},
		{"hour out of range", func(c *Config) { c.Limits.ActiveHours = []int{25} }, false},
		{"notify without token", func(c *Config) { c.Notify.Enabled = true }, false},
		{"duplicate account", func(c *Config) {
			c.Workers = append(c.Workers, c.Workers[0])
		}, false},
		{"unknown platform", func(c *Config) { c.Workers[0].Platform = "MYSPACE" }, false},
		{"unknown role", func(c *Config) { c.Workers[0].Roles = []string{"JANITOR"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{
				Store: StoreConfig{Path: "./db"},
				Workers: []WorkerConfig{
					{AccountID: "a1", Platform: "INSTAGRAM", Roles: []string{"ENGAGEMENT"}},
				},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLimitsMergeOverBuiltins(t *testing.T) {
	t.Parallel()
	lc := LimitsConfig{
		Defaults:    map[string]int{"LIKE_POST": 40},
		Platforms:   map[string]map[string]int{"TIKTOK": {"LIKE_POST": 25}},
		ActiveHours: []int{9, 12, 18},
	}
	lim := lc.Limits()
	if got := lim.Defaults[model.ActionLikePost]; got != 40 {
		t.Fatalf("default like max = %d, want 40", got)
	}
	if got := lim.Platforms[model.PlatformTikTok][model.ActionLikePost]; got != 25 {
		t.Fatalf("tiktok like max = %d, want 25", got)
	}
	if len(lim.ActiveHours) != 3 {
		t.Fatalf("active hours = %v", lim.ActiveHours)
	}
	// Untouched built-ins survive the merge.
	if len(lim.Weights) == 0 {
		t.Fatal("weights table lost in merge")
	}
}

func TestReloadSuppressesUnchangedContent(t *testing.T) {
	t.Parallel()
	m, path := writeConfig(t, sampleYAML)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Same bytes rewritten: no publish.
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload()
	select {
	case <-sub:
		t.Fatal("unchanged content must not be published")
	default:
	}

	// Changed content: published and committed.
	changed := sampleYAML + "notify:\n  enabled: false\n  rate_per_sec: 2\n"
	if err := os.WriteFile(path, []byte(changed), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload()
	select {
	case cfg := <-sub:
		if cfg.Notify.RatePerSec != 2 {
			t.Fatalf("published config = %+v", cfg.Notify)
		}
	case <-time.After(time.Second):
		t.Fatal("changed content was not published")
	}
}

func TestReloadRejectsInvalidWithoutCommit(t *testing.T) {
	t.Parallel()
	m, path := writeConfig(t, sampleYAML)
	prev, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte("store:\n  path: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if got := m.Get(); got != prev {
		t.Fatalf("invalid reload must keep the previous config committed")
	}
}
