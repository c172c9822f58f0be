package model

import (
	"strings"
	"time"
)

// Platform identifies the social network an account or campaign belongs to.
type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformX         Platform = "X"
)

// ---- Campaign ----

type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

// campaignTransitions is the allowed status transition map.
// COMPLETED is terminal and has no outgoing transitions.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignRunning:   {CampaignPaused, CampaignCompleted},
	CampaignPaused:    {CampaignRunning, CampaignCompleted},
	CampaignCompleted: {},
}

func (s CampaignStatus) CanTransitionTo(to CampaignStatus) bool {
	for _, t := range campaignTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

type Campaign struct {
	ID            string
	Name          string
	Status        CampaignStatus
	Platform      Platform
	StartDate     time.Time
	Interventions []Intervention
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ---- Intervention ----

type InterventionStatus string

const (
	InterventionPending   InterventionStatus = "PENDING"
	InterventionRunning   InterventionStatus = "RUNNING"
	InterventionCompleted InterventionStatus = "COMPLETED"
	InterventionFailed    InterventionStatus = "FAILED"
)

var interventionTransitions = map[InterventionStatus][]InterventionStatus{
	InterventionPending: {InterventionRunning, InterventionFailed},
	// RUNNING may cycle back to PENDING on a retryable error.
	InterventionRunning:   {InterventionPending, InterventionCompleted, InterventionFailed},
	InterventionCompleted: {},
	InterventionFailed:    {},
}

func (s InterventionStatus) CanTransitionTo(to InterventionStatus) bool {
	for _, t := range interventionTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s InterventionStatus) Terminal() bool {
	return s == InterventionCompleted || s == InterventionFailed
}

// Intervention is a unit of scheduled work: an ordered action sequence plus
// lead-selection criteria, owned by a campaign.
type Intervention struct {
	ID         string
	CampaignID string
	Name       string
	Actions    []Action
	Criteria   LeadCriteria
	Status     InterventionStatus
	AutoStart  bool
	StartDate  time.Time

	// Blocked is true exactly while a dispatch attempt is in flight. It is set
	// before worker acquisition and cleared on failure-to-acquire or terminal
	// error, preventing a second concurrent dispatch of the same intervention.
	Blocked bool

	// Progress is the fraction of actions completed so far, in [0,1].
	Progress float64

	// ImportanceFactor is subtracted from the computed queue priority
	// (lower priority value = dispatched earlier).
	ImportanceFactor int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllMock reports whether every action is a mock action, in which case the
// executing worker skips platform login.
func (iv Intervention) AllMock() bool {
	if len(iv.Actions) == 0 {
		return false
	}
	for _, a := range iv.Actions {
		if a.Type != ActionMock {
			return false
		}
	}
	return true
}

// ---- Action ----

type ActionType string

const (
	ActionLikePost        ActionType = "LIKE_POST"
	ActionFollowUser      ActionType = "FOLLOW_USER"
	ActionSendMessage     ActionType = "SEND_MESSAGE"
	ActionViewComments    ActionType = "VIEW_COMMENTS"
	ActionScrapePostLikes ActionType = "SCRAPE_POST_LIKES"
	ActionScrapeHashtag   ActionType = "SCRAPE_HASHTAG"
	ActionViewProfile     ActionType = "VIEW_PROFILE"

	// ActionMock exists for smoke runs; it performs no platform call.
	ActionMock ActionType = "MOCK"
)

// Action is a single typed step within an intervention.
type Action struct {
	ID       string
	Type     ActionType
	Username string // target account, when applicable
	Hashtag  string
	PostID   string
	Limit    int // optional cap on items processed (0 = adapter default)
	Message  string
	Params   map[string]string
}

// ---- Roles ----

// Role is an eligibility tag a worker must hold to run certain action mixes.
type Role string

const (
	RoleScrapping  Role = "SCRAPPING"
	RoleEngagement Role = "ENGAGEMENT"
	RoleMessaging  Role = "MESSAGING"
)

// actionRoles maps each action type to exactly one role tag (or none).
// Keep this table as the single source of truth; do not enumerate action
// types anywhere else when classifying.
var actionRoles = map[ActionType]Role{
	ActionLikePost:        RoleEngagement,
	ActionFollowUser:      RoleEngagement,
	ActionSendMessage:     RoleMessaging,
	ActionViewComments:    RoleScrapping,
	ActionScrapePostLikes: RoleScrapping,
	ActionScrapeHashtag:   RoleScrapping,
}

// RoleOf returns the role tag for an action type, if it has one.
func RoleOf(t ActionType) (Role, bool) {
	r, ok := actionRoles[t]
	return r, ok
}

// RequiredRole derives the role a worker needs to run the given action mix.
// MESSAGING wins outright if present; otherwise the majority of ENGAGEMENT vs
// SCRAPPING decides, with SCRAPPING as the fallback when any scraping action
// exists. Returns ok=false when no role is required.
func RequiredRole(actions []Action) (Role, bool) {
	engagement, scrapping := 0, 0
	for _, a := range actions {
		r, ok := actionRoles[a.Type]
		if !ok {
			continue
		}
		switch r {
		case RoleMessaging:
			return RoleMessaging, true
		case RoleEngagement:
			engagement++
		case RoleScrapping:
			scrapping++
		}
	}
	if engagement > scrapping {
		return RoleEngagement, true
	}
	if scrapping > 0 {
		return RoleScrapping, true
	}
	return "", false
}

// ---- Leads ----

// LeadCriteria filters discovered profiles. Keywords match comment text; the
// AI criteria string is delegated to the external classifier when configured.
type LeadCriteria struct {
	MinFollowers int
	MaxFollowers int
	MinPosts     int
	MaxPosts     int
	Keywords     []string
	AICriteria   string
}

// MatchProfile applies the numeric bounds (0 means unbounded).
func (c LeadCriteria) MatchProfile(followers, posts int) bool {
	if c.MinFollowers > 0 && followers < c.MinFollowers {
		return false
	}
	if c.MaxFollowers > 0 && followers > c.MaxFollowers {
		return false
	}
	if c.MinPosts > 0 && posts < c.MinPosts {
		return false
	}
	if c.MaxPosts > 0 && posts > c.MaxPosts {
		return false
	}
	return true
}

// MatchKeywords reports whether text contains any configured keyword
// (case-insensitive). With no keywords configured, everything matches.
func (c LeadCriteria) MatchKeywords(text string) bool {
	if len(c.Keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range c.Keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Lead is a discovered profile attributed to the source account and action.
type Lead struct {
	ID             string
	AccountID      string // worker account that discovered the lead
	PlatformID     string // profile id on the platform
	Username       string
	FullName       string
	Followers      int
	Posts          int
	SourceAction   ActionType
	InterventionID string
	DiscoveredAt   time.Time
}

// DedupeKey identifies a lead for conflict resolution: one row per
// (account, platform id) pair.
func (l Lead) DedupeKey() string {
	return l.AccountID + "/" + l.PlatformID
}
