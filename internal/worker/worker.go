package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"leadops/internal/domain"
	"leadops/internal/engine"
	"leadops/internal/repo"
)

const defaultPollInterval = 1500 * time.Millisecond

// HandlerFunc executes one claimed job and returns a JSON-serializable
// result. A returned error marks the job failed; failure is terminal per
// attempt and never requeued implicitly.
type HandlerFunc func(ctx context.Context, job domain.Job) (any, error)

// Worker polls the job queue, claims one job at a time, and dispatches it to
// the handler registered for its type. Multiple workers may run against the
// same queue; the claim statement guarantees at most one executor per job.
type Worker struct {
	Engine   engine.Engine
	Interval time.Duration
	// StaleAfter, when positive, requeues running jobs claimed longer ago
	// than this before each poll. Off by default: a stuck job is made
	// visible, not silently recycled.
	StaleAfter time.Duration
	Logger     *log.Logger

	handlers map[string]HandlerFunc
}

func New(e engine.Engine) *Worker {
	w := &Worker{
		Engine:   e,
		Interval: defaultPollInterval,
		handlers: map[string]HandlerFunc{},
	}
	w.Register("lead_export", ExportHandler(e, 0))
	return w
}

// Register binds a handler to a job type. Only registered types are claimed.
func (w *Worker) Register(jobType string, h HandlerFunc) {
	w.handlers[jobType] = h
}

func (w *Worker) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

func (w *Worker) types() []string {
	out := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		out = append(out, t)
	}
	return out
}

func (w *Worker) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return defaultPollInterval
}

func (w *Worker) now() time.Time {
	if w.Engine.Now != nil {
		return w.Engine.Now()
	}
	return time.Now()
}

// Run polls until ctx is cancelled. The sleep between polls is interruptible;
// an in-flight job always runs to completion before the loop exits.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			// Transient store trouble: log and retry on the next tick.
			w.logger().Printf("worker: poll failed: %v", err)
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.interval()):
		}
	}
}

// RunOnce performs a single poll iteration: optional stale reclaim, one
// claim, one execution. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	now := w.now().UTC()
	if w.StaleAfter > 0 {
		cutoff := now.Add(-w.StaleAfter).Format(time.RFC3339)
		if n, err := w.Engine.Repo.ReclaimStaleJobs(ctx, cutoff, now.Format(time.RFC3339)); err != nil {
			return false, err
		} else if n > 0 {
			w.logger().Printf("worker: requeued %d stale running job(s)", n)
		}
	}

	job, err := w.Engine.Repo.ClaimJob(ctx, now.Format(time.RFC3339), w.types()...)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The claim succeeded; finish the job even if shutdown started.
	w.execute(context.WithoutCancel(ctx), job)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, job domain.Job) {
	now := func() string { return w.now().UTC().Format(time.RFC3339) }

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.fail(ctx, job, fmt.Sprintf("no handler for job type %q", job.Type), now())
		return
	}

	result, err := handler(ctx, job)
	if err != nil {
		w.fail(ctx, job, err.Error(), now())
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("marshal result: %v", err), now())
		return
	}
	if err := w.Engine.Repo.MarkJobReady(ctx, job.ID, string(data), now()); err != nil {
		w.logger().Printf("worker: mark job %s ready: %v", job.ID, err)
	}
}

func (w *Worker) fail(ctx context.Context, job domain.Job, detail, now string) {
	data, _ := json.Marshal(map[string]any{"error": detail})
	if err := w.Engine.Repo.MarkJobFailed(ctx, job.ID, string(data), now); err != nil {
		w.logger().Printf("worker: mark job %s failed: %v", job.ID, err)
	}
	w.logger().Printf("worker: job %s (%s) failed: %s", job.ID, job.Type, detail)
}
