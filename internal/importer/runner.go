package importer

import (
	"fmt"

	"github.com/google/uuid"

	"partsfeed/internal/catalog"
	"partsfeed/internal/logger"
	"partsfeed/internal/reconcile"
)

// Job is one file's worth of work. Import is called with a progress
// checkpoint that survives across attempts, so a retry resumes at the first
// uncommitted chunk instead of replaying the whole file. OnComplete runs only
// after the import has fully succeeded, typically to archive the source file.
type Job struct {
	Info       FileInfo
	Import     func(prog *reconcile.Progress) error
	OnComplete func() error
}

// Runner drives one job through the tracker and a bounded retry loop.
type Runner struct {
	tracker     *Tracker
	log         *logger.Logger
	maxAttempts int
}

func NewRunner(tracker *Tracker, log *logger.Logger, maxAttempts int) *Runner {
	return &Runner{
		tracker:     tracker,
		log:         log.With("component", "importer"),
		maxAttempts: maxAttempts,
	}
}

// Run executes the job with at most maxAttempts attempts. The audit row is
// written up front and closed whether the job succeeds or not; the last error
// is what lands in the row when the budget runs out.
func (r *Runner) Run(job Job) error {
	runID := uuid.NewString()
	log := r.log.With(
		"run_id", runID,
		"file", job.Info.Name,
		"brand", job.Info.BrandShortName,
		"feed", string(job.Info.Type),
	)

	row, err := r.tracker.Begin(job.Info, catalog.ActionImport)
	if err != nil {
		return err
	}

	var prog reconcile.Progress
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		log.Info("import attempt starting", "attempt", attempt, "resume_chunk", prog.Chunk)
		lastErr = job.Import(&prog)
		if lastErr == nil {
			break
		}
		log.Error("import attempt failed",
			"attempt", attempt, "resume_chunk", prog.Chunk, "error", lastErr)
	}

	if lastErr != nil {
		runErr := fmt.Errorf("importer: %s failed after %d attempts: %w",
			job.Info.Name, r.maxAttempts, lastErr)
		if err := r.tracker.Finish(row, runErr); err != nil {
			log.Error("tracking row not closed", "error", err)
		}
		return runErr
	}

	if err := r.tracker.Finish(row, nil); err != nil {
		return err
	}
	log.Info("import complete", "chunks", prog.Chunk)

	if job.OnComplete != nil {
		if err := job.OnComplete(); err != nil {
			return fmt.Errorf("importer: post-import step for %s: %w", job.Info.Name, err)
		}
	}
	return nil
}
