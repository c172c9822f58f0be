// Package store persists campaigns, interventions and leads.
//
// The scheduler consumes the Repository interface; the SQLite implementation
// below is the production backend, tests substitute in-memory fakes.
package store

import (
	"context"
	"errors"
	"time"

	"outreachd/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// Config configures the SQLite backend.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records a status transition for operator forensics.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At             time.Time
	InterventionID string
	Action         string
	Detail         string
}

// Repository is the campaign/intervention/lead store contract the scheduler
// depends on.
type Repository interface {
	// CampaignsDue returns campaigns with the given status whose start date
	// is at or before the cutoff, interventions included.
	CampaignsDue(ctx context.Context, status model.CampaignStatus, startedBefore time.Time) ([]model.Campaign, error)

	// UpdateInterventionStatus persists the transition and appends an audit
	// log entry.
	UpdateInterventionStatus(ctx context.Context, id string, status model.InterventionStatus) error

	// CampaignOfIntervention resolves the owning campaign.
	CampaignOfIntervention(ctx context.Context, interventionID string) (model.Campaign, error)

	// SaveLeads bulk-stores leads, deduping by (account, platform id) and
	// updating the existing row on conflict.
	SaveLeads(ctx context.Context, leads []model.Lead) error
}
