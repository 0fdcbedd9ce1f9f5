package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadops/internal/config"
	"leadops/internal/db"
	"leadops/internal/domain"
	"leadops/internal/engine"
	"leadops/internal/migrate"
	"leadops/internal/query"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("site-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitSite(ctx, "site-1", "test", "tester"); err != nil {
		t.Fatalf("init site: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestStatusUpdateBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID:   "site-1",
		FullName: "Alice Martin",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if lead.Version != 1 || lead.Status != "new" {
		t.Fatalf("new lead should start at version 1 in status new, got %d %s", lead.Version, lead.Status)
	}

	updated, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID:          "site-1",
		LeadID:          lead.ID,
		ExpectedVersion: 1,
		Status:          "contacted",
		SubStatus:       "left_voicemail",
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Version != 2 || updated.Status != "contacted" {
		t.Fatalf("expected version 2 / contacted, got %d %s", updated.Version, updated.Status)
	}
	if updated.SubStatus == nil || *updated.SubStatus != "left_voicemail" {
		t.Fatalf("sub_status not applied: %v", updated.SubStatus)
	}
}

func TestStatusUpdateStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Bob Jones", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "contacted", ActorID: "tester",
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Replay with the version we already consumed.
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "qualified", ActorID: "tester",
	})
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.LeadID != lead.ID || conflict.ExpectedVersion != 1 {
		t.Fatalf("conflict details: %+v", conflict)
	}
	// The lead must be untouched by the losing write.
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID, "site-1")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.Version != 2 || got.Status != "contacted" {
		t.Fatalf("losing write leaked: %d %s", got.Version, got.Status)
	}
}

func TestStatusUpdateConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Race Case", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	// Both writers hold the same expected version; exactly one may win.
	statuses := []string{"contacted", "qualified"}
	results := make(chan error, len(statuses))
	var wg sync.WaitGroup
	for _, status := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			_, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
				SiteID:          "site-1",
				LeadID:          lead.ID,
				ExpectedVersion: 1,
				Status:          status,
				ActorID:         "tester",
			})
			results <- err
		}(status)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var conflict engine.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("unexpected error: %v", err)
		}
		conflicts++
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("got %d wins and %d conflicts, want exactly one of each", wins, conflicts)
	}
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID, "site-1")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("final version %d, want 2", got.Version)
	}
	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, lead.ID, "site-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("losing write left a history row: %d rows", len(history))
	}
}

func TestStatusUpdateReasonCodeRequired(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Carol White", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "lost", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for lost without reason, got %v", err)
	}
	updated, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "lost", ReasonCode: "not_interested", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("lost with reason: %v", err)
	}
	if updated.Status != "lost" || updated.Version != 2 {
		t.Fatalf("expected lost at version 2, got %s %d", updated.Status, updated.Version)
	}
}

func TestStatusUpdateUnknownStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Dan Green", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "frozen", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestArchiveSetsArchivedAt(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Eve Black", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	updated, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "archived", ReasonCode: "duplicate", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !updated.Archived() || updated.ArchivedAt == nil {
		t.Fatalf("archived_at not set")
	}
	// Archived leads drop out of the default list scope.
	res, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{SiteID: "site-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 0 || res.FilteredCount != 0 {
		t.Fatalf("archived lead still visible: %d items", len(res.Items))
	}
	res, err = env.Engine.ListLeads(env.Ctx, engine.ListOptions{
		SiteID:  "site-1",
		Filters: query.Filters{Archived: query.ArchivedOnly},
	})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected one archived lead, got %d", len(res.Items))
	}
}

func TestAddNoteRollsUpActivity(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Frank Hill", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	note, err := env.Engine.AddNote(env.Ctx, engine.NoteOptions{
		SiteID: "site-1", LeadID: lead.ID, ActorID: "tester", NoteText: "called, no answer", Pinned: true,
	})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.NoteText != "called, no answer" || !note.Pinned {
		t.Fatalf("note fields: %+v", note)
	}
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID, "site-1")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("note rollup must bump version, got %d", got.Version)
	}
	if got.LastActivityAt == nil || got.LastActivityType == nil || *got.LastActivityType != "note" {
		t.Fatalf("activity rollup missing: %+v", got)
	}
}

func TestLeadDetailAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Grace Lee", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "contacted", ActorID: "tester",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.Engine.AddNote(env.Ctx, engine.NoteOptions{
		SiteID: "site-1", LeadID: lead.ID, ActorID: "tester", NoteText: "spoke briefly",
	}); err != nil {
		t.Fatalf("note: %v", err)
	}
	detail, err := env.Engine.GetLeadDetail(env.Ctx, lead.ID, "site-1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(detail.Notes))
	}
	if len(detail.History) != 1 || detail.History[0].FromStatus != "new" || detail.History[0].ToStatus != "contacted" {
		t.Fatalf("history: %+v", detail.History)
	}
	// created + status_changed + note_added
	if len(detail.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(detail.Events))
	}
	// Event rows use the engine clock, not the wall clock.
	for _, ev := range detail.Events {
		if ev.CreatedAt != "2024-01-01T00:00:00Z" {
			t.Fatalf("event %s timestamped %s, want the fixed clock", ev.EventType, ev.CreatedAt)
		}
	}
}

func TestListLeadsPaginationWalk(t *testing.T) {
	env := newTestEnv(t)
	// Distinct created_at per lead so the walk crosses real key boundaries.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	env.Engine.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	want := map[string]bool{}
	for i := 0; i < 7; i++ {
		lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
			SiteID:        "site-1",
			FullName:      fmt.Sprintf("Lead %02d", i),
			PriorityScore: i * 10,
			ActorID:       "tester",
		})
		if err != nil {
			t.Fatalf("create lead %d: %v", i, err)
		}
		want[lead.ID] = true
	}

	got := map[string]bool{}
	cursor := ""
	pages := 0
	var prevCreated string
	for {
		res, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{
			SiteID: "site-1", Cursor: cursor, Limit: 3,
		})
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		if res.FilteredCount != 7 {
			t.Fatalf("page %d: filtered count %d, want 7", pages, res.FilteredCount)
		}
		for _, l := range res.Items {
			if got[l.ID] {
				t.Fatalf("lead %s returned twice", l.ID)
			}
			if prevCreated != "" && l.CreatedAt > prevCreated {
				t.Fatalf("created_at order violated: %s after %s", l.CreatedAt, prevCreated)
			}
			prevCreated = l.CreatedAt
			got[l.ID] = true
		}
		pages++
		if res.NextCursor == "" || len(res.Items) == 0 {
			break
		}
		cursor = res.NextCursor
	}
	if len(got) != len(want) {
		t.Fatalf("walk returned %d leads, want %d", len(got), len(want))
	}
	if pages < 3 {
		t.Fatalf("expected at least 3 pages, got %d", pages)
	}
}

func TestListLeadsPrioritySortWalk(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
			SiteID:        "site-1",
			FullName:      fmt.Sprintf("Lead %d", i),
			PriorityScore: 100 - i*10,
			ActorID:       "tester",
		}); err != nil {
			t.Fatalf("create lead %d: %v", i, err)
		}
	}
	res, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{
		SiteID: "site-1", Sort: "priority_desc", Limit: 2,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].PriorityScore != 100 || res.Items[1].PriorityScore != 90 {
		t.Fatalf("first page order: %+v", res.Items)
	}
	res2, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{
		SiteID: "site-1", Sort: "priority_desc", Cursor: res.NextCursor, Limit: 2,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(res2.Items) != 2 || res2.Items[0].PriorityScore != 80 {
		t.Fatalf("second page order: %+v", res2.Items)
	}
}

func TestListLeadsBadCursorRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{SiteID: "site-1", Cursor: "garbage!!"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestListLeadsCursorSortMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Only Lead", ActorID: "tester",
	}); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	res, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{SiteID: "site-1", Limit: 1})
	if err != nil || res.NextCursor == "" {
		t.Fatalf("seed page: %v, cursor %q", err, res.NextCursor)
	}
	_, err = env.Engine.ListLeads(env.Ctx, engine.ListOptions{
		SiteID: "site-1", Sort: "priority_desc", Cursor: res.NextCursor,
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on reused cursor, got %v", err)
	}
}

func TestSearchFilters(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Alice Martin", Email: "Alice@Example.com", Phone: "+1 (555) 010-2030", ActorID: "tester",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		SiteID: "site-1", FullName: "Bob Jones", ActorID: "tester",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, tc := range []struct {
		search string
		want   int
	}{
		{"alice@example.com", 1},
		{"ALICE@EXAMPLE.COM", 1},
		{"5550102030", 1},
		{"alice", 1},
		{"jones", 1},
		{"nobody", 0},
	} {
		res, err := env.Engine.ListLeads(env.Ctx, engine.ListOptions{
			SiteID: "site-1", Filters: query.Filters{Search: tc.search},
		})
		if err != nil {
			t.Fatalf("search %q: %v", tc.search, err)
		}
		if len(res.Items) != tc.want {
			t.Fatalf("search %q: got %d leads, want %d", tc.search, len(res.Items), tc.want)
		}
	}
}

func TestEnqueueExport(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{
		Filters: query.Filters{Statuses: []string{"new"}},
		Sort:    "priority_desc",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Type != "lead_export" || job.State != domain.JobQueued || job.Attempts != 0 {
		t.Fatalf("job: %+v", job)
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID, "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Payload == "" {
		t.Fatalf("payload not stored")
	}
}

func TestSavedViewsSeedOnce(t *testing.T) {
	env := newTestEnv(t)
	views, err := env.Engine.SavedViews(env.Ctx, "site-1", "tester")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(views) != 5 {
		t.Fatalf("expected 5 preset views, got %d", len(views))
	}
	again, err := env.Engine.SavedViews(env.Ctx, "site-1", "tester")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(again) != len(views) {
		t.Fatalf("presets reseeded: %d then %d", len(views), len(again))
	}
	for _, v := range views {
		if !v.IsPreset {
			t.Fatalf("seeded view not marked preset: %+v", v)
		}
	}
}
