package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadops/internal/config"
	"leadops/internal/domain"
)

func (r Repo) InsertSite(ctx context.Context, tx *sql.Tx, s domain.Site) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sites(id,name,status,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Name, s.Status, s.CreatedAt)
	return err
}

func (r Repo) GetSite(ctx context.Context, id string) (domain.Site, error) {
	var s domain.Site
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM sites WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.Status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSites(ctx context.Context) ([]domain.Site, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM sites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Site
	for rows.Next() {
		var s domain.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SingleSite returns the only site in the store, or an error when the count
// is not exactly one. Used by the CLI to resolve an implicit --site.
func (r Repo) SingleSite(ctx context.Context) (domain.Site, error) {
	sites, err := r.ListSites(ctx)
	if err != nil {
		return domain.Site{}, err
	}
	if len(sites) != 1 {
		return domain.Site{}, ErrNotFound
	}
	return sites[0], nil
}

func (r Repo) AddMemberTx(ctx context.Context, tx *sql.Tx, siteID, actorID, role, now string) error {
	if role == "" {
		role = "agent"
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO site_members(site_id,actor_id,role,added_at) VALUES (?,?,?,?)`,
		siteID, actorID, role, now)
	return err
}

// IsMember reports whether the actor belongs to the site.
func (r Repo) IsMember(ctx context.Context, siteID, actorID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM site_members WHERE site_id=? AND actor_id=? LIMIT 1`, siteID, actorID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) UpsertSiteConfig(ctx context.Context, siteID string, cfg *config.Config) error {
	return upsertSiteConfig(ctx, r.DB, nil, siteID, cfg)
}

func (r Repo) UpsertSiteConfigTx(ctx context.Context, tx *sql.Tx, siteID string, cfg *config.Config) error {
	return upsertSiteConfig(ctx, nil, tx, siteID, cfg)
}

func upsertSiteConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, siteID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Site.ID = siteID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO site_configs(site_id,config_yaml,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(site_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, siteID, string(payload), now, now)
	return err
}

func (r Repo) GetSiteConfig(ctx context.Context, siteID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM site_configs WHERE site_id=?`, siteID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, err
	}
	if cfg.Site.ID == "" {
		cfg.Site.ID = siteID
	}
	return cfg, nil
}
