package repo

import (
	"context"
	"database/sql"
	"strings"

	"leadops/internal/domain"
)

const jobColumns = `id,site_id,type,state,payload_json,result_json,attempts,claimed_at,created_at,updated_at`

func scanJob(row leadScanner) (domain.Job, error) {
	var j domain.Job
	var result, claimedAt sql.NullString
	err := row.Scan(&j.ID, &j.SiteID, &j.Type, &j.State, &j.Payload, &result, &j.Attempts, &claimedAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.Result = strPtr(result)
	j.ClaimedAt = strPtr(claimedAt)
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO jobs(id,site_id,type,state,payload_json,attempts,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.SiteID, j.Type, j.State, j.Payload, j.Attempts, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id, siteID string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=? AND site_id=?`, id, siteID))
}

// ClaimJob atomically claims the oldest queued job of one of the given types.
// The claim and the queued->running transition are the same statement, so no
// two workers can ever observe the same job as claimable; attempts is bumped
// as part of the claim. ErrNotFound means the queue is empty.
func (r Repo) ClaimJob(ctx context.Context, now string, types ...string) (domain.Job, error) {
	if len(types) == 0 {
		return domain.Job{}, ErrNotFound
	}
	args := []any{now, now}
	placeholders := make([]string, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	q := `UPDATE jobs SET state='running', attempts=attempts+1, claimed_at=?, updated_at=?
WHERE id=(SELECT id FROM jobs WHERE state='queued' AND type IN (` + strings.Join(placeholders, ",") + `) ORDER BY created_at ASC, id ASC LIMIT 1)
AND state='queued'
RETURNING ` + jobColumns
	return scanJob(r.DB.QueryRowContext(ctx, q, args...))
}

// MarkJobReady records success. Only a running job can become ready; a
// terminal job is never rewritten.
func (r Repo) MarkJobReady(ctx context.Context, id, resultJSON, now string) error {
	return r.finishJob(ctx, id, domain.JobReady, resultJSON, now)
}

// MarkJobFailed records a terminal failure with error detail. The job is not
// requeued; a retry is a new job.
func (r Repo) MarkJobFailed(ctx context.Context, id, resultJSON, now string) error {
	return r.finishJob(ctx, id, domain.JobFailed, resultJSON, now)
}

func (r Repo) finishJob(ctx context.Context, id, state, resultJSON, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET state=?, result_json=?, updated_at=? WHERE id=? AND state='running'`,
		state, resultJSON, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStaleJobs requeues running jobs claimed before the cutoff. This is
// the explicit recovery path for workers that died mid-job; it is never run
// implicitly.
func (r Repo) ReclaimStaleJobs(ctx context.Context, cutoff, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET state='queued', claimed_at=NULL, updated_at=? WHERE state='running' AND claimed_at IS NOT NULL AND claimed_at<?`,
		now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListJobs(ctx context.Context, siteID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE site_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
