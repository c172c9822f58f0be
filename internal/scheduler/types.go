package scheduler

import (
	"time"

	"outreachd/internal/model"
)

// ErrorKind is the failure taxonomy recorded on queue items.
type ErrorKind string

const (
	// KindSimulatorNotFound: no eligible worker right now. Transient; retried
	// every cycle without consuming retry budget.
	KindSimulatorNotFound ErrorKind = "SIMULATOR_NOT_FOUND"

	// KindInterventionFailed: an action raised an error. The blocking
	// sub-kind aborts the run and quarantines the worker.
	KindInterventionFailed ErrorKind = "INTERVENTION_FAILED"

	// KindInvalidState: an operation referenced a queue item that no longer
	// exists.
	KindInvalidState ErrorKind = "INVALID_STATE"

	// KindDatabaseError: persistence failed while finalizing a run.
	KindDatabaseError ErrorKind = "DATABASE_ERROR"

	// KindTimeout: a wait (rate-limit, login verification) exceeded bounds.
	KindTimeout ErrorKind = "TIMEOUT"
)

// State is the scheduler tri-state. REFRESHING and EXECUTING are mutually
// exclusive with each other and with themselves.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateRefreshing:
		return "REFRESHING"
	case StateExecuting:
		return "EXECUTING"
	default:
		return "IDLE"
	}
}

// LastError is the short error summary kept per queue item; full detail only
// exists as log events.
type LastError struct {
	Kind    ErrorKind
	Message string
	At      time.Time
}

// QueueItem wraps one eligible intervention while it lives in the in-memory
// queue.
type QueueItem struct {
	ID           string
	Intervention model.Intervention
	Platform     model.Platform

	// AssignedWorker is the account id of the worker running the
	// intervention, empty while unassigned.
	AssignedWorker string

	EnqueuedAt time.Time

	// Priority orders dispatch: 1 is highest, 10 lowest.
	Priority int

	RetryCount int
	LastError  *LastError

	AssignedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the run time of a finished item (zero until completed).
func (qi *QueueItem) Duration() time.Duration {
	if qi.StartedAt.IsZero() || qi.CompletedAt.IsZero() {
		return 0
	}
	return qi.CompletedAt.Sub(qi.StartedAt)
}

// RunEvent is the payload published on the bus when a run finishes or fails.
type RunEvent struct {
	InterventionID string
	CampaignID     string
	Leads          int
	Kind           ErrorKind
	Error          string
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// RetryMax is the retry budget per intervention before FAILED.
	RetryMax int

	// Retention keeps terminal queue items visible for inspection.
	Retention time.Duration

	// IdleRearmDelay is added past the earliest future start date when the
	// idle timer is armed.
	IdleRearmDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.IdleRearmDelay <= 0 {
		c.IdleRearmDelay = 10 * time.Second
	}
	return c
}

// Metrics are monotonic scheduler counters.
type Metrics struct {
	Dispatched  uint64
	Completed   uint64
	Failed      uint64
	Retried     uint64
	NoWorker    uint64
	LeadsStored uint64
}

// ItemSummary is the queue view exposed by Snapshot.
type ItemSummary struct {
	InterventionID string
	Status         model.InterventionStatus
	Blocked        bool
	Priority       int
	RetryCount     int
	AssignedWorker string
	EnqueuedAt     time.Time
	LastError      *LastError
	Duration       time.Duration
}

// Snapshot is a point-in-time diagnostic view.
type Snapshot struct {
	State   State
	Pending int
	Running int
	Items   []ItemSummary
	Metrics Metrics
}
