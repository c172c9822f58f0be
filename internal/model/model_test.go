package model

import "testing"

func TestCampaignTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from CampaignStatus
		to   CampaignStatus
		ok   bool
	}{
		{name: "run to pause", from: CampaignRunning, to: CampaignPaused, ok: true},
		{name: "pause to run", from: CampaignPaused, to: CampaignRunning, ok: true},
		{name: "run to complete", from: CampaignRunning, to: CampaignCompleted, ok: true},
		{name: "completed is terminal", from: CampaignCompleted, to: CampaignRunning, ok: false},
		{name: "no self transition", from: CampaignRunning, to: CampaignRunning, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestInterventionTransitions(t *testing.T) {
	t.Parallel()
	if !InterventionRunning.CanTransitionTo(InterventionPending) {
		t.Fatal("RUNNING must be able to cycle back to PENDING on retry")
	}
	if InterventionCompleted.CanTransitionTo(InterventionPending) {
		t.Fatal("COMPLETED must be terminal")
	}
	if InterventionFailed.CanTransitionTo(InterventionRunning) {
		t.Fatal("FAILED must be terminal")
	}
	if !InterventionFailed.Terminal() || !InterventionCompleted.Terminal() {
		t.Fatal("terminal statuses misreported")
	}
}

func TestRequiredRole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		actions []Action
		role    Role
		ok      bool
	}{
		{
			name:    "messaging wins outright",
			actions: []Action{{Type: ActionViewComments}, {Type: ActionViewComments}, {Type: ActionSendMessage}},
			role:    RoleMessaging, ok: true,
		},
		{
			name:    "engagement majority",
			actions: []Action{{Type: ActionLikePost}, {Type: ActionFollowUser}, {Type: ActionViewComments}},
			role:    RoleEngagement, ok: true,
		},
		{
			name:    "scrapping on tie",
			actions: []Action{{Type: ActionLikePost}, {Type: ActionViewComments}},
			role:    RoleScrapping, ok: true,
		},
		{
			name:    "scrapping only",
			actions: []Action{{Type: ActionScrapeHashtag}},
			role:    RoleScrapping, ok: true,
		},
		{
			name:    "no role for untagged actions",
			actions: []Action{{Type: ActionViewProfile}, {Type: ActionMock}},
			ok:      false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			role, ok := RequiredRole(tt.actions)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && role != tt.role {
				t.Fatalf("role = %s, want %s", role, tt.role)
			}
		})
	}
}

func TestLeadCriteriaMatch(t *testing.T) {
	t.Parallel()
	c := LeadCriteria{MinFollowers: 100, MaxFollowers: 10000, MinPosts: 5, Keywords: []string{"coffee", "Espresso"}}

	if !c.MatchProfile(500, 20) {
		t.Fatal("profile within bounds should match")
	}
	if c.MatchProfile(50, 20) {
		t.Fatal("too few followers should not match")
	}
	if c.MatchProfile(500, 2) {
		t.Fatal("too few posts should not match")
	}
	if !c.MatchKeywords("I really love ESPRESSO in the morning") {
		t.Fatal("keyword match should be case-insensitive")
	}
	if c.MatchKeywords("tea only") {
		t.Fatal("no keyword present should not match")
	}
	if !(LeadCriteria{}).MatchKeywords("anything") {
		t.Fatal("empty keyword list matches everything")
	}
}

func TestAllMock(t *testing.T) {
	t.Parallel()
	iv := Intervention{Actions: []Action{{Type: ActionMock}, {Type: ActionMock}}}
	if !iv.AllMock() {
		t.Fatal("all-mock intervention should report AllMock")
	}
	iv.Actions = append(iv.Actions, Action{Type: ActionLikePost})
	if iv.AllMock() {
		t.Fatal("mixed intervention should not report AllMock")
	}
	if (Intervention{}).AllMock() {
		t.Fatal("empty action list is not all-mock")
	}
}
