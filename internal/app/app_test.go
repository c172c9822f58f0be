package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"outreachd/internal/model"
)

func writeAppConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
logging:
  level: error
  console: true
store:
  path: %s
scheduler:
  retry_max: 3
limits:
  active_hours: [0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,20,21,22,23]
workers:
  - account_id: acct-sim
    platform: INSTAGRAM
    roles: [ENGAGEMENT, SCRAPPING, MESSAGING]
    profile: casual
`, filepath.Join(dir, "outreachd.db"))
	path := filepath.Join(dir, "outreachd.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// End-to-end through the real wiring: config file -> sqlite store -> refresh
// -> dispatch -> simulator run -> persisted completion.
func TestAppRunsSeededCampaign(t *testing.T) {
	a, err := New(writeAppConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	campaign := model.Campaign{
		ID:        "camp-1",
		Name:      "smoke",
		Status:    model.CampaignRunning,
		Platform:  model.PlatformInstagram,
		StartDate: now.Add(-time.Minute),
		Interventions: []model.Intervention{{
			ID:         "iv-1",
			CampaignID: "camp-1",
			Name:       "first touch",
			Actions:    []model.Action{{Type: model.ActionMock}},
			Status:     model.InterventionPending,
			AutoStart:  true,
			StartDate:  now.Add(-time.Minute),
		}},
	}
	if err := a.Store().UpsertCampaign(context.Background(), campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.Scheduler().Snapshot().Metrics.Completed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := a.Scheduler().Snapshot().Metrics.Completed; got != 1 {
		t.Fatalf("completed = %d, want 1 (snapshot: %+v)", got, a.Scheduler().Snapshot())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)

	// The terminal status survives the process: re-open and check.
	b, err := New(a.cfgPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Stop(context.Background())
	campaigns, err := b.Store().CampaignsDue(context.Background(), model.CampaignRunning, time.Now())
	if err != nil {
		t.Fatalf("campaigns: %v", err)
	}
	if len(campaigns) != 1 || campaigns[0].Interventions[0].Status != model.InterventionCompleted {
		t.Fatalf("persisted campaigns = %+v", campaigns)
	}
}
