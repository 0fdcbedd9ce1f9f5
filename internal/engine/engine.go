package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadops/internal/config"
	"leadops/internal/domain"
	"leadops/internal/events"
	"leadops/internal/query"
	"leadops/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventWriter returns the writer bound to the engine's clock, so event rows
// and the mutation they describe carry the same timestamp source.
func (e Engine) eventWriter() events.Writer {
	w := e.Events
	w.Now = e.Now
	return w
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// siteConfig loads the site's stored config, falling back to the engine
// default when none has been imported yet.
func (e Engine) siteConfig(ctx context.Context, siteID string) *config.Config {
	cfg, err := e.Repo.GetSiteConfig(ctx, siteID)
	if err == nil {
		return cfg
	}
	if e.Config != nil {
		return e.Config
	}
	return config.Default(siteID)
}

// InitSite creates a site with its seed config.
func (e Engine) InitSite(ctx context.Context, siteID, name, actorID string) (domain.Site, error) {
	if name == "" {
		name = siteID
	}
	s := domain.Site{
		ID:        siteID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Site{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSite(ctx, tx, s); err != nil {
		return domain.Site{}, fmt.Errorf("insert site: %w", err)
	}
	if err := e.Repo.UpsertSiteConfigTx(ctx, tx, s.ID, config.Default(s.ID)); err != nil {
		return domain.Site{}, fmt.Errorf("insert site config: %w", err)
	}
	if actorID != "" {
		if err := e.Repo.AddMemberTx(ctx, tx, s.ID, actorID, "owner", s.CreatedAt); err != nil {
			return domain.Site{}, fmt.Errorf("add member: %w", err)
		}
	}
	return s, tx.Commit()
}

// LeadCreateOptions are parameters for creating a lead.
type LeadCreateOptions struct {
	ID             string
	SiteID         string
	Type           string
	FullName       string
	Phone          string
	Email          string
	Region         string
	PriorityScore  int
	PriorityReason string

	EstMonthlyPremiumCents *int64
	EstCommissionCents     *int64

	NextActionAt   string
	NextActionType string

	ActorID string
}

func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	if opts.SiteID == "" {
		return domain.Lead{}, validationf("site_id is required")
	}
	if opts.FullName == "" {
		return domain.Lead{}, validationf("full_name is required")
	}
	if _, err := e.Repo.GetSite(ctx, opts.SiteID); err != nil {
		return domain.Lead{}, err
	}
	if opts.Type == "" {
		opts.Type = "web"
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.nowStr()
	l := domain.Lead{
		ID:                     id,
		SiteID:                 opts.SiteID,
		Type:                   opts.Type,
		Status:                 "new",
		FullName:               opts.FullName,
		Phone:                  opts.Phone,
		Email:                  opts.Email,
		Region:                 opts.Region,
		PriorityScore:          opts.PriorityScore,
		PriorityReason:         opts.PriorityReason,
		EstMonthlyPremiumCents: opts.EstMonthlyPremiumCents,
		EstCommissionCents:     opts.EstCommissionCents,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if opts.NextActionAt != "" {
		l.NextActionAt = &opts.NextActionAt
	}
	if opts.NextActionType != "" {
		l.NextActionType = &opts.NextActionType
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLead(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, "lead.created", l.SiteID, l.ID, opts.ActorID, events.EventPayload{
		"status": l.Status,
		"type":   l.Type,
	}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// ListOptions carry one page request through the compiler.
type ListOptions struct {
	SiteID  string
	Filters query.Filters
	Sort    string
	Cursor  string
	Limit   int
}

// ListResult is one committed page plus the position and total.
type ListResult struct {
	Items         []domain.Lead
	NextCursor    string
	FilteredCount int
}

// ListLeads compiles and executes a list plan and its independent count
// plan. The next cursor is minted from the last row of a non-empty page
// unless the sort's primary field is null there, in which case pagination
// terminates.
func (e Engine) ListLeads(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.SiteID == "" {
		return ListResult{}, validationf("site_id is required")
	}
	sort, err := query.ParseSort(opts.Sort)
	if err != nil {
		return ListResult{}, validationf("%v", err)
	}
	cur, err := query.DecodeCursor(opts.Cursor)
	if err != nil {
		return ListResult{}, validationf("%v", err)
	}
	now := e.now()
	plan, err := query.Compile(opts.SiteID, opts.Filters, sort, cur, opts.Limit, now)
	if err != nil {
		if errors.Is(err, query.ErrCursorSortMismatch) || errors.Is(err, query.ErrInvalidCursor) || errors.Is(err, query.ErrUnknownSort) {
			return ListResult{}, validationf("%v", err)
		}
		return ListResult{}, err
	}

	items, err := e.Repo.ListLeads(ctx, plan, plan.Limit)
	if err != nil {
		return ListResult{}, err
	}
	count, err := e.Repo.CountLeads(ctx, query.CompileCount(opts.SiteID, opts.Filters, now))
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Items: items, FilteredCount: count}
	if len(items) > 0 {
		if next, ok := query.NextCursor(sort, items[len(items)-1]); ok {
			res.NextCursor = next
		}
	}
	return res, nil
}

// LeadDetail bundles a lead with its audit feeds.
type LeadDetail struct {
	Lead    domain.Lead
	Notes   []domain.LeadNote
	Events  []domain.LeadEvent
	History []domain.LeadStatusHistory
}

func (e Engine) GetLeadDetail(ctx context.Context, id, siteID string) (LeadDetail, error) {
	lead, err := e.Repo.GetLead(ctx, id, siteID)
	if err != nil {
		return LeadDetail{}, err
	}
	notes, err := e.Repo.ListNotes(ctx, id, siteID, 50)
	if err != nil {
		return LeadDetail{}, err
	}
	evts, err := e.Repo.ListEvents(ctx, id, siteID, 100)
	if err != nil {
		return LeadDetail{}, err
	}
	history, err := e.Repo.ListStatusHistory(ctx, id, siteID, 50)
	if err != nil {
		return LeadDetail{}, err
	}
	return LeadDetail{Lead: lead, Notes: notes, Events: evts, History: history}, nil
}

// UpdateStatusOptions are parameters for one conditional status write.
type UpdateStatusOptions struct {
	SiteID          string
	LeadID          string
	ExpectedVersion int64
	Status          string
	SubStatus       string
	ReasonCode      string
	NextActionAt    string
	NextActionType  string
	ActorID         string
}

// UpdateStatus applies a status change under optimistic concurrency. The
// version check happens twice: once on the initial read for a fast, clean
// Conflict, and again inside the conditional UPDATE itself, which is what
// actually closes the read-then-write race. Status history and the event row
// are written in the same transaction; partial application is never visible.
func (e Engine) UpdateStatus(ctx context.Context, opts UpdateStatusOptions) (domain.Lead, error) {
	if opts.SiteID == "" {
		return domain.Lead{}, validationf("site_id is required")
	}
	if opts.Status == "" {
		return domain.Lead{}, validationf("status is required")
	}
	cfg := e.siteConfig(ctx, opts.SiteID)
	if !cfg.KnownStatus(opts.Status) {
		return domain.Lead{}, validationf("unknown status %q", opts.Status)
	}
	if cfg.ReasonRequiredFor(opts.Status) && opts.ReasonCode == "" {
		return domain.Lead{}, validationf("reason_code required for status %q", opts.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID, opts.SiteID)
	if err != nil {
		return domain.Lead{}, err
	}
	if current.Version != opts.ExpectedVersion {
		return domain.Lead{}, ConflictError{LeadID: opts.LeadID, ExpectedVersion: opts.ExpectedVersion}
	}

	now := e.nowStr()
	upd := repo.LeadStatusUpdate{
		LeadID:          opts.LeadID,
		SiteID:          opts.SiteID,
		ExpectedVersion: opts.ExpectedVersion,
		Status:          opts.Status,
		Now:             now,
	}
	if opts.SubStatus != "" {
		upd.SubStatus = &opts.SubStatus
	} else {
		upd.SubStatus = current.SubStatus
	}
	if opts.NextActionAt != "" {
		upd.NextActionAt = &opts.NextActionAt
	}
	if opts.NextActionType != "" {
		upd.NextActionType = &opts.NextActionType
	}
	if opts.Status == "archived" {
		upd.ArchivedAt = &now
	}

	affected, err := e.Repo.UpdateLeadStatusTx(ctx, tx, upd)
	if err != nil {
		return domain.Lead{}, err
	}
	if affected == 0 {
		// A concurrent writer bumped the version between our read and the
		// conditional write.
		return domain.Lead{}, ConflictError{LeadID: opts.LeadID, ExpectedVersion: opts.ExpectedVersion}
	}

	history := domain.LeadStatusHistory{
		ID:         uuid.NewString(),
		SiteID:     opts.SiteID,
		LeadID:     opts.LeadID,
		FromStatus: current.Status,
		ToStatus:   opts.Status,
		ActorID:    opts.ActorID,
		CreatedAt:  now,
	}
	if opts.ReasonCode != "" {
		history.ReasonCode = &opts.ReasonCode
	}
	if err := e.Repo.InsertStatusHistoryTx(ctx, tx, history); err != nil {
		return domain.Lead{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, "lead.status_changed", opts.SiteID, opts.LeadID, opts.ActorID, events.EventPayload{
		"from_status": current.Status,
		"to_status":   opts.Status,
		"sub_status":  opts.SubStatus,
		"reason_code": opts.ReasonCode,
	}); err != nil {
		return domain.Lead{}, err
	}

	updated, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID, opts.SiteID)
	if err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return updated, nil
}

// NoteOptions are parameters for appending a note.
type NoteOptions struct {
	SiteID   string
	LeadID   string
	ActorID  string
	NoteText string
	Pinned   bool
}

// AddNote appends a note with its event row and rolls activity up onto the
// lead, all in one transaction. Notes carry no version precondition, but the
// rollup still advances the lead's version.
func (e Engine) AddNote(ctx context.Context, opts NoteOptions) (domain.LeadNote, error) {
	if opts.NoteText == "" {
		return domain.LeadNote{}, validationf("note_text is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeadNote{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID, opts.SiteID); err != nil {
		return domain.LeadNote{}, err
	}

	now := e.nowStr()
	n := domain.LeadNote{
		ID:        uuid.NewString(),
		SiteID:    opts.SiteID,
		LeadID:    opts.LeadID,
		ActorID:   opts.ActorID,
		NoteText:  opts.NoteText,
		Pinned:    opts.Pinned,
		CreatedAt: now,
	}
	if err := e.Repo.InsertNoteTx(ctx, tx, n); err != nil {
		return domain.LeadNote{}, err
	}
	if err := e.eventWriter().Append(ctx, tx, "lead.note_added", opts.SiteID, opts.LeadID, opts.ActorID, events.EventPayload{
		"pinned": opts.Pinned,
	}); err != nil {
		return domain.LeadNote{}, err
	}
	if _, err := e.Repo.TouchLeadActivityTx(ctx, tx, opts.LeadID, opts.SiteID, "note", now); err != nil {
		return domain.LeadNote{}, err
	}
	return n, tx.Commit()
}

// ExportPayload is the lead_export job input.
type ExportPayload struct {
	Filters query.Filters `json:"filters"`
	Sort    string        `json:"sort,omitempty"`
}

// EnqueueExport creates a queued lead_export job and returns it. The caller
// observes completion by polling the job state.
func (e Engine) EnqueueExport(ctx context.Context, siteID, actorID string, payload ExportPayload) (domain.Job, error) {
	if siteID == "" {
		return domain.Job{}, validationf("site_id is required")
	}
	if _, err := e.Repo.GetSite(ctx, siteID); err != nil {
		return domain.Job{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, err
	}
	now := e.nowStr()
	j := domain.Job{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Type:      "lead_export",
		State:     domain.JobQueued,
		Payload:   string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertJob(ctx, j); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// SavedViews lists an actor's saved views for a site, seeding the config's
// preset views on first use.
func (e Engine) SavedViews(ctx context.Context, siteID, actorID string) ([]domain.SavedView, error) {
	count, err := e.Repo.CountSavedViews(ctx, siteID, actorID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		cfg := e.siteConfig(ctx, siteID)
		now := e.nowStr()
		for _, p := range cfg.SavedViews {
			filters, err := json.Marshal(p.Filters)
			if err != nil {
				return nil, err
			}
			sort := p.Sort
			if sort == "" {
				sort = string(query.SortCreatedDesc)
			}
			v := domain.SavedView{
				ID:        uuid.NewString(),
				SiteID:    siteID,
				ActorID:   actorID,
				Name:      p.Name,
				IsPreset:  true,
				Filters:   string(filters),
				Sort:      sort,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.Repo.InsertSavedView(ctx, v); err != nil {
				return nil, err
			}
		}
	}
	return e.Repo.ListSavedViews(ctx, siteID, actorID)
}
