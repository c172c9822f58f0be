package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"outreachd/internal/model"
	logx "outreachd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite implements Repository on a single database file.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &SQLite{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertCampaign writes the campaign row and replaces its interventions.
// The control plane calls this on campaign create/update.
func (s *SQLite) UpsertCampaign(ctx context.Context, c model.Campaign) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO campaigns(id, name, status, platform, start_date, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, status=excluded.status, platform=excluded.platform,
		   start_date=excluded.start_date, updated_at=excluded.updated_at`,
		c.ID, c.Name, string(c.Status), string(c.Platform),
		c.StartDate.UTC().Format(time.RFC3339Nano),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	for _, iv := range c.Interventions {
		actions, err := json.Marshal(iv.Actions)
		if err != nil {
			return err
		}
		criteria, err := json.Marshal(iv.Criteria)
		if err != nil {
			return err
		}
		if iv.CreatedAt.IsZero() {
			iv.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO interventions(id, campaign_id, name, status, auto_start, start_date, importance, progress, actions_json, criteria_json, created_at, updated_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   name=excluded.name, status=excluded.status, auto_start=excluded.auto_start,
			   start_date=excluded.start_date, importance=excluded.importance,
			   progress=excluded.progress, actions_json=excluded.actions_json,
			   criteria_json=excluded.criteria_json, updated_at=excluded.updated_at`,
			iv.ID, c.ID, iv.Name, string(iv.Status), boolInt(iv.AutoStart),
			iv.StartDate.UTC().Format(time.RFC3339Nano), iv.ImportanceFactor, iv.Progress,
			string(actions), string(criteria),
			iv.CreatedAt.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLite) CampaignsDue(ctx context.Context, status model.CampaignStatus, startedBefore time.Time) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, platform, start_date, created_at, updated_at
		 FROM campaigns WHERE status = ? AND start_date <= ?
		 ORDER BY start_date`,
		string(status), startedBefore.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ivs, err := s.interventionsOf(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Interventions = ivs
	}
	return out, nil
}

func (s *SQLite) interventionsOf(ctx context.Context, campaignID string) ([]model.Intervention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, name, status, auto_start, start_date, importance, progress, actions_json, criteria_json, created_at, updated_at
		 FROM interventions WHERE campaign_id = ? ORDER BY created_at`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateInterventionStatus(ctx context.Context, id string, status model.InterventionStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE interventions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("intervention %s: %w", id, ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit(at, intervention_id, action, detail) VALUES(?,?,?,?)`,
		now, id, "status_change", string(status),
	)
	if err != nil && !s.log.IsZero() {
		// Audit is best-effort; the transition itself committed.
		s.log.Warn("audit append failed", logx.String("intervention", id), logx.Err(err))
	}
	return nil
}

func (s *SQLite) CampaignOfIntervention(ctx context.Context, interventionID string) (model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.name, c.status, c.platform, c.start_date, c.created_at, c.updated_at
		 FROM campaigns c JOIN interventions i ON i.campaign_id = c.id
		 WHERE i.id = ?`,
		interventionID,
	)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, fmt.Errorf("intervention %s: %w", interventionID, ErrNotFound)
	}
	if err != nil {
		return model.Campaign{}, err
	}
	ivs, err := s.interventionsOf(ctx, c.ID)
	if err != nil {
		return model.Campaign{}, err
	}
	c.Interventions = ivs
	return c, nil
}

func (s *SQLite) SaveLeads(ctx context.Context, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range leads {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO leads(id, account_id, platform_id, username, full_name, followers, posts, source_action, intervention_id, discovered_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(account_id, platform_id) DO UPDATE SET
			   username=excluded.username, full_name=excluded.full_name,
			   followers=excluded.followers, posts=excluded.posts,
			   source_action=excluded.source_action, intervention_id=excluded.intervention_id,
			   discovered_at=excluded.discovered_at`,
			l.ID, l.AccountID, l.PlatformID, l.Username, l.FullName,
			l.Followers, l.Posts, string(l.SourceAction), l.InterventionID,
			l.DiscoveredAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LeadCount reports how many distinct leads are stored.
func (s *SQLite) LeadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	return n, err
}

// AuditFor returns the audit trail of one intervention, oldest first.
func (s *SQLite) AuditFor(ctx context.Context, interventionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, intervention_id, action, detail FROM audit WHERE intervention_id = ? ORDER BY id`,
		interventionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at, detail string
		if err := rows.Scan(&at, &e.InterventionID, &e.Action, &detail); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Detail = detail
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- scanning ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (model.Campaign, error) {
	var c model.Campaign
	var status, plat, start, created, updated string
	if err := r.Scan(&c.ID, &c.Name, &status, &plat, &start, &created, &updated); err != nil {
		return model.Campaign{}, err
	}
	c.Status = model.CampaignStatus(status)
	c.Platform = model.Platform(plat)
	c.StartDate, _ = time.Parse(time.RFC3339Nano, start)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func scanIntervention(r rowScanner) (model.Intervention, error) {
	var iv model.Intervention
	var status, start, created, updated, actions, criteria string
	var auto int
	if err := r.Scan(&iv.ID, &iv.CampaignID, &iv.Name, &status, &auto, &start, &iv.ImportanceFactor, &iv.Progress, &actions, &criteria, &created, &updated); err != nil {
		return model.Intervention{}, err
	}
	iv.Status = model.InterventionStatus(status)
	iv.AutoStart = auto != 0
	iv.StartDate, _ = time.Parse(time.RFC3339Nano, start)
	iv.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	iv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if err := json.Unmarshal([]byte(actions), &iv.Actions); err != nil {
		return model.Intervention{}, fmt.Errorf("intervention %s actions: %w", iv.ID, err)
	}
	if err := json.Unmarshal([]byte(criteria), &iv.Criteria); err != nil {
		return model.Intervention{}, fmt.Errorf("intervention %s criteria: %w", iv.ID, err)
	}
	return iv, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
