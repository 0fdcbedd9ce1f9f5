package repo

import (
	"context"
	"database/sql"
	"errors"

	"leadops/internal/domain"
	"leadops/internal/query"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const leadColumns = `id,site_id,type,status,sub_status,full_name,phone,email,region,priority_score,priority_reason,est_monthly_premium_cents,est_commission_cents,last_activity_at,last_activity_type,next_action_at,next_action_type,archived_at,version,created_at,updated_at`

type leadScanner interface {
	Scan(dest ...any) error
}

func scanLead(row leadScanner) (domain.Lead, error) {
	var l domain.Lead
	var subStatus, phone, email, region, priorityReason sql.NullString
	var lastActivityAt, lastActivityType, nextActionAt, nextActionType, archivedAt sql.NullString
	var premium, commission sql.NullInt64
	err := row.Scan(&l.ID, &l.SiteID, &l.Type, &l.Status, &subStatus, &l.FullName, &phone, &email, &region,
		&l.PriorityScore, &priorityReason, &premium, &commission,
		&lastActivityAt, &lastActivityType, &nextActionAt, &nextActionType, &archivedAt,
		&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.SubStatus = strPtr(subStatus)
	if phone.Valid {
		l.Phone = phone.String
	}
	if email.Valid {
		l.Email = email.String
	}
	if region.Valid {
		l.Region = region.String
	}
	if priorityReason.Valid {
		l.PriorityReason = priorityReason.String
	}
	l.EstMonthlyPremiumCents = intPtr(premium)
	l.EstCommissionCents = intPtr(commission)
	l.LastActivityAt = strPtr(lastActivityAt)
	l.LastActivityType = strPtr(lastActivityType)
	l.NextActionAt = strPtr(nextActionAt)
	l.NextActionType = strPtr(nextActionType)
	l.ArchivedAt = strPtr(archivedAt)
	return l, nil
}

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leads(`+leadColumns+`,name_normalized,phone_normalized,email_normalized)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.SiteID, l.Type, l.Status, nullableStringPtr(l.SubStatus), l.FullName, nullable(l.Phone), nullable(l.Email), nullable(l.Region),
		l.PriorityScore, nullable(l.PriorityReason), nullableInt64Ptr(l.EstMonthlyPremiumCents), nullableInt64Ptr(l.EstCommissionCents),
		nullableStringPtr(l.LastActivityAt), nullableStringPtr(l.LastActivityType), nullableStringPtr(l.NextActionAt), nullableStringPtr(l.NextActionType), nullableStringPtr(l.ArchivedAt),
		l.Version, l.CreatedAt, l.UpdatedAt,
		query.NormalizeName(l.FullName), nullable(query.NormalizePhone(l.Phone)), nullable(query.NormalizeEmail(l.Email)))
	return err
}

// GetLead is a point lookup scoped to its site.
func (r Repo) GetLead(ctx context.Context, id, siteID string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=? AND site_id=?`, id, siteID))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id, siteID string) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=? AND site_id=?`, id, siteID))
}

// ListLeads executes a compiled list plan, fetching up to limit rows in the
// plan's committed order.
func (r Repo) ListLeads(ctx context.Context, p query.Plan, limit int) ([]domain.Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE ` + p.Where + ` ORDER BY ` + p.OrderBy + ` LIMIT ?`
	args := append(append([]any{}, p.Args...), limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// CountLeads executes a count plan built from filter predicates only.
func (r Repo) CountLeads(ctx context.Context, p query.Plan) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM leads WHERE `+p.Where, p.Args...).Scan(&n)
	return n, err
}

// LeadStatusUpdate describes one conditional status write.
type LeadStatusUpdate struct {
	LeadID          string
	SiteID          string
	ExpectedVersion int64
	Status          string
	SubStatus       *string
	NextActionAt    *string
	NextActionType  *string
	ArchivedAt      *string // set only when entering an archived state
	Now             string
}

// UpdateLeadStatusTx applies the conditional write keyed on
// (id, site_id, version). Zero affected rows means a concurrent writer won;
// the caller reports Conflict.
func (r Repo) UpdateLeadStatusTx(ctx context.Context, tx *sql.Tx, u LeadStatusUpdate) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET
status=?,
sub_status=?,
next_action_at=COALESCE(?,next_action_at),
next_action_type=COALESCE(?,next_action_type),
archived_at=COALESCE(?,archived_at),
last_activity_at=?,
last_activity_type='status_change',
version=version+1,
updated_at=?
WHERE id=? AND site_id=? AND version=?`,
		u.Status, nullableStringPtr(u.SubStatus),
		nullableStringPtr(u.NextActionAt), nullableStringPtr(u.NextActionType),
		nullableStringPtr(u.ArchivedAt),
		u.Now, u.Now,
		u.LeadID, u.SiteID, u.ExpectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TouchLeadActivityTx rolls last activity up onto the lead. Notes are
// append-only and carry no version precondition, but the rollup still
// advances the version.
func (r Repo) TouchLeadActivityTx(ctx context.Context, tx *sql.Tx, leadID, siteID, activityType, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET last_activity_at=?, last_activity_type=?, version=version+1, updated_at=? WHERE id=? AND site_id=?`,
		now, activityType, now, leadID, siteID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertNoteTx(ctx context.Context, tx *sql.Tx, n domain.LeadNote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lead_notes(id,site_id,lead_id,actor_id,note_text,pinned,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.SiteID, n.LeadID, n.ActorID, n.NoteText, boolToInt(n.Pinned), n.CreatedAt)
	return err
}

// ListNotes returns a lead's notes, pinned first, newest first within each
// group.
func (r Repo) ListNotes(ctx context.Context, leadID, siteID string, limit int) ([]domain.LeadNote, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,site_id,lead_id,actor_id,note_text,pinned,created_at FROM lead_notes WHERE lead_id=? AND site_id=? ORDER BY pinned DESC, created_at DESC, id DESC LIMIT ?`,
		leadID, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadNote
	for rows.Next() {
		var n domain.LeadNote
		var pinned int
		if err := rows.Scan(&n.ID, &n.SiteID, &n.LeadID, &n.ActorID, &n.NoteText, &pinned, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Pinned = pinned != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, leadID, siteID string, limit int) ([]domain.LeadEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,site_id,lead_id,actor_id,event_type,payload_json,created_at FROM lead_events WHERE lead_id=? AND site_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		leadID, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadEvent
	for rows.Next() {
		var e domain.LeadEvent
		var actor sql.NullString
		if err := rows.Scan(&e.ID, &e.SiteID, &e.LeadID, &actor, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.ActorID = actor.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertStatusHistoryTx(ctx context.Context, tx *sql.Tx, h domain.LeadStatusHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lead_status_history(id,site_id,lead_id,from_status,to_status,actor_id,reason_code,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		h.ID, h.SiteID, h.LeadID, h.FromStatus, h.ToStatus, nullable(h.ActorID), nullableStringPtr(h.ReasonCode), h.CreatedAt)
	return err
}

func (r Repo) ListStatusHistory(ctx context.Context, leadID, siteID string, limit int) ([]domain.LeadStatusHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,site_id,lead_id,from_status,to_status,actor_id,reason_code,created_at FROM lead_status_history WHERE lead_id=? AND site_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		leadID, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadStatusHistory
	for rows.Next() {
		var h domain.LeadStatusHistory
		var actor, reason sql.NullString
		if err := rows.Scan(&h.ID, &h.SiteID, &h.LeadID, &h.FromStatus, &h.ToStatus, &actor, &reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			h.ActorID = actor.String
		}
		h.ReasonCode = strPtr(reason)
		res = append(res, h)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
