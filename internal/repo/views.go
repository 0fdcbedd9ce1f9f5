package repo

import (
	"context"

	"leadops/internal/domain"
)

// ListSavedViews returns an actor's saved views for a site, presets first.
func (r Repo) ListSavedViews(ctx context.Context, siteID, actorID string) ([]domain.SavedView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,site_id,actor_id,name,is_preset,filters_json,sort,created_at,updated_at FROM lead_saved_views WHERE site_id=? AND actor_id=? ORDER BY is_preset DESC, name ASC`,
		siteID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SavedView
	for rows.Next() {
		var v domain.SavedView
		var preset int
		if err := rows.Scan(&v.ID, &v.SiteID, &v.ActorID, &v.Name, &preset, &v.Filters, &v.Sort, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.IsPreset = preset != 0
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) CountSavedViews(ctx context.Context, siteID, actorID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM lead_saved_views WHERE site_id=? AND actor_id=?`, siteID, actorID).Scan(&n)
	return n, err
}

func (r Repo) InsertSavedView(ctx context.Context, v domain.SavedView) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO lead_saved_views(id,site_id,actor_id,name,is_preset,filters_json,sort,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID, v.SiteID, v.ActorID, v.Name, boolToInt(v.IsPreset), v.Filters, v.Sort, v.CreatedAt, v.UpdatedAt)
	return err
}
