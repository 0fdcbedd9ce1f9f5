package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"leadops/internal/config"
	"leadops/internal/db"
	"leadops/internal/domain"
	"leadops/internal/engine"
	"leadops/internal/migrate"
	"leadops/internal/query"
	"leadops/internal/repo"
	"leadops/internal/worker"
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
	eng := engine.New(conn, config.Default("site-1"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitSite(ctx, "site-1", "test", "tester"); err != nil {
		t.Fatalf("init site: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestExportJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
			SiteID: "site-1", FullName: fmt.Sprintf("Lead %d", i), ActorID: "tester",
		}); err != nil {
			t.Fatalf("create lead: %v", err)
		}
	}
	job, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	claimed, err := w.RunOnce(env.Ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatalf("expected a claim")
	}

	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID, "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != domain.JobReady {
		t.Fatalf("job state %s, want ready", got.State)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", got.Attempts)
	}
	if got.Result == nil {
		t.Fatalf("result not stored")
	}
	var res worker.ExportResult
	if err := json.Unmarshal([]byte(*got.Result), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Rows != 3 || res.Truncated {
		t.Fatalf("result: %+v", res)
	}
	lines := strings.Split(strings.TrimSpace(res.CSVInline), "\n")
	if len(lines) != 4 {
		t.Fatalf("csv should carry header plus 3 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,created_at,type,status") {
		t.Fatalf("csv header: %s", lines[0])
	}

	// An idle queue claims nothing.
	claimed, err = w.RunOnce(env.Ctx)
	if err != nil || claimed {
		t.Fatalf("idle poll: claimed=%v err=%v", claimed, err)
	}
}

func TestExportRespectsFiltersAndTruncation(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
			SiteID: "site-1", FullName: fmt.Sprintf("Lead %d", i), ActorID: "tester",
		})
		if err != nil {
			t.Fatalf("create lead: %v", err)
		}
		if i >= 2 {
			if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
				SiteID: "site-1", LeadID: lead.ID, ExpectedVersion: 1, Status: "contacted", ActorID: "tester",
			}); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}
	job, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{
		Filters: query.Filters{Statuses: []string{"new"}},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	// Cap below the match count to force truncation.
	w.Register("lead_export", worker.ExportHandler(env.Engine, 1))
	if _, err := w.RunOnce(env.Ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID, "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	var res worker.ExportResult
	if err := json.Unmarshal([]byte(*got.Result), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Rows != 1 || !res.Truncated {
		t.Fatalf("expected truncated single-row export, got %+v", res)
	}
}

func TestHandlerErrorMarksJobFailed(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	w.Register("lead_export", func(ctx context.Context, job domain.Job) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	if _, err := w.RunOnce(env.Ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, err := env.Engine.Repo.GetJob(env.Ctx, job.ID, "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != domain.JobFailed || !got.Terminal() {
		t.Fatalf("job state %s, want failed", got.State)
	}
	if got.Result == nil || !strings.Contains(*got.Result, "boom") {
		t.Fatalf("failure detail missing: %v", got.Result)
	}

	// failed is terminal: another poll must not touch the job.
	if claimed, err := w.RunOnce(env.Ctx); err != nil || claimed {
		t.Fatalf("failed job reclaimed: claimed=%v err=%v", claimed, err)
	}
	again, err := env.Engine.Repo.GetJob(env.Ctx, job.ID, "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if again.Attempts != 1 {
		t.Fatalf("attempts advanced on a terminal job: %d", again.Attempts)
	}
}

func TestClaimOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	env.Engine.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		job, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, job.ID)
	}

	var executed []string
	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	w.Register("lead_export", func(ctx context.Context, job domain.Job) (any, error) {
		executed = append(executed, job.ID)
		return map[string]any{}, nil
	})
	for i := 0; i < 3; i++ {
		claimed, err := w.RunOnce(env.Ctx)
		if err != nil || !claimed {
			t.Fatalf("poll %d: claimed=%v err=%v", i, claimed, err)
		}
	}
	for i, id := range ids {
		if executed[i] != id {
			t.Fatalf("claim order %v, want %v", executed, ids)
		}
	}
}

func TestConcurrentClaimsAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	const jobCount = 10
	const workers = 4
	for i := 0; i < jobCount; i++ {
		if _, err := env.Engine.EnqueueExport(env.Ctx, "site-1", "tester", engine.ExportPayload{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var mu sync.Mutex
	claims := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := env.Engine.Repo.ClaimJob(env.Ctx, "2024-01-01T00:00:00Z", "lead_export")
				if errors.Is(err, repo.ErrNotFound) {
					return
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				claims[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claims) != jobCount {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claims), jobCount)
	}
	for id, n := range claims {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
	jobs, err := env.Engine.Repo.ListJobs(env.Ctx, "site-1", jobCount)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, j := range jobs {
		if j.State != domain.JobRunning || j.Attempts != 1 {
			t.Fatalf("job %s: state %s attempts %d", j.ID, j.State, j.Attempts)
		}
	}
}

func TestUnknownJobTypeNotClaimed(t *testing.T) {
	env := newTestEnv(t)
	now := "2024-01-01T00:00:00Z"
	if err := env.Engine.Repo.InsertJob(env.Ctx, domain.Job{
		ID: "job-x", SiteID: "site-1", Type: "reindex", State: domain.JobQueued,
		Payload: "{}", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert job: %v", err)
	}

	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	claimed, err := w.RunOnce(env.Ctx)
	if err != nil || claimed {
		t.Fatalf("unregistered type should stay queued: claimed=%v err=%v", claimed, err)
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, "job-x", "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != domain.JobQueued || got.Attempts != 0 {
		t.Fatalf("job touched: %+v", got)
	}
}

func TestStaleRunningJobReclaim(t *testing.T) {
	env := newTestEnv(t)
	// A job stuck in running since well before the cutoff.
	if err := env.Engine.Repo.InsertJob(env.Ctx, domain.Job{
		ID: "job-stale", SiteID: "site-1", Type: "lead_export", State: domain.JobQueued,
		Payload: "{}", CreatedAt: "2023-12-31T00:00:00Z", UpdatedAt: "2023-12-31T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if _, err := env.Engine.Repo.ClaimJob(env.Ctx, "2023-12-31T00:00:00Z", "lead_export"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	w := worker.New(env.Engine)
	w.Logger = quietLogger()
	// Reclaim disabled: the running job stays invisible.
	if claimed, err := w.RunOnce(env.Ctx); err != nil || claimed {
		t.Fatalf("reclaim-off poll: claimed=%v err=%v", claimed, err)
	}

	w.StaleAfter = time.Hour
	claimed, err := w.RunOnce(env.Ctx)
	if err != nil || !claimed {
		t.Fatalf("reclaim poll: claimed=%v err=%v", claimed, err)
	}
	got, err := env.Engine.Repo.GetJob(env.Ctx, "job-stale", "site-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != domain.JobReady {
		t.Fatalf("reclaimed job should have completed, state %s", got.State)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts %d, want 2 (original claim plus reclaimed run)", got.Attempts)
	}
}
