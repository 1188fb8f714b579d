// Package worker drives one generation job through one step per
// invocation. The persisted job record is the only state shared between
// invocations; an external trigger re-invokes the orchestrator until the
// job reaches a terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tobysauze/BookByte-sub001/internal/generate"
	"github.com/tobysauze/BookByte-sub001/internal/store"
)

// DefaultStaleAfter is how long a job may sit in "running" without an
// update before it is presumed crashed and recovered to "queued".
const DefaultStaleAfter = 30 * time.Minute

// SourceFetcher downloads the binary source document.
type SourceFetcher interface {
	Download(ctx context.Context, ref store.SourceRef) ([]byte, error)
}

// TextExtractor turns a source document into page-marked text.
type TextExtractor interface {
	Text(buf []byte) (string, error)
}

// StepGenerator performs one bounded continuation step.
type StepGenerator interface {
	Step(ctx context.Context, in generate.StepInput) (*generate.StepResult, error)
}

// Config parameterizes an Orchestrator.
type Config struct {
	Store     store.Store
	Fetcher   SourceFetcher
	Extractor TextExtractor
	Generator StepGenerator

	// Instructions is the opaque instruction/outline text handed to the
	// generator on every step.
	Instructions string

	// MaxStepTokens bounds a single step's output, not the document.
	MaxStepTokens int

	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration

	Logger *slog.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

// Orchestrator is the entry point invoked by the trigger endpoint.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg}
}

// Run advances the job one step and returns its record afterwards.
//
// Terminal jobs are returned untouched, so re-triggering is always safe.
// A job already running with a fresh heartbeat is also returned untouched;
// one with a stale heartbeat is recovered to queued first. Unrecoverable
// failures mark the job as errored and are returned to the caller.
func (o *Orchestrator) Run(ctx context.Context, jobID string, ref *store.SourceRef) (*store.Job, error) {
	st := o.cfg.Store
	log := o.cfg.Logger.With("job_id", jobID)

	job, err := st.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return job, nil
	}

	if job.Status == store.StatusRunning {
		age := o.cfg.Now().UTC().Sub(job.UpdatedAt)
		if age < o.cfg.StaleAfter {
			// A live invocation owns this job.
			return job, nil
		}
		log.Warn("recovering stale running job", "age", age)
		job, err = st.Transition(ctx, jobID, store.StatusRunning, store.UpdateStatus(store.StatusQueued))
		if err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				// Raced with the owner finishing; report fresh state.
				return st.Get(ctx, jobID)
			}
			return nil, err
		}
	}

	// Claim queued -> running. Losing the race means another invocation
	// is processing the job; that is not an error for our caller.
	claim := store.UpdateStatus(store.StatusRunning)
	empty := ""
	claim.ErrorMessage = &empty
	if ref != nil && !ref.Empty() && job.Source.Empty() {
		claim.Source = ref
	}
	job, err = st.Transition(ctx, jobID, store.StatusQueued, claim)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return st.Get(ctx, jobID)
		}
		return nil, err
	}

	if job.CachedSourceText == "" {
		if err := o.extractSource(ctx, job, log); err != nil {
			return o.fail(ctx, jobID, err, log)
		}
		job, err = st.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}

	step, err := o.cfg.Generator.Step(ctx, generate.StepInput{
		Model:        job.Model,
		Instructions: o.cfg.Instructions,
		SourceText:   job.CachedSourceText,
		Accumulated:  job.AccumulatedOutput,
		MaxTokens:    o.cfg.MaxStepTokens,
	})
	if err != nil {
		return o.fail(ctx, jobID, err, log)
	}

	// Output only ever grows; the fragment is appended, never swapped in.
	output := job.AccumulatedOutput + step.Fragment
	status := store.StatusQueued
	if step.Complete {
		status = store.StatusDone
	}

	job, err = st.Update(ctx, jobID, store.Update{
		Status:            &status,
		AccumulatedOutput: &output,
	})
	if err != nil {
		return nil, err
	}

	log.Info("generation step persisted",
		"status", job.Status,
		"finish_reason", step.FinishReason,
		"output_chars", len(job.AccumulatedOutput),
	)
	return job, nil
}

// extractSource downloads and extracts the source text, persisting it
// immediately so a later crash never re-downloads or re-extracts.
func (o *Orchestrator) extractSource(ctx context.Context, job *store.Job, log *slog.Logger) error {
	if job.Source.Empty() {
		return fmt.Errorf("job has no source reference")
	}

	buf, err := o.cfg.Fetcher.Download(ctx, job.Source)
	if err != nil {
		return err
	}

	text, err := o.cfg.Extractor.Text(buf)
	if err != nil {
		return err
	}

	if _, err := o.cfg.Store.Update(ctx, job.ID, store.Update{CachedSourceText: &text}); err != nil {
		return fmt.Errorf("failed to persist extracted text: %w", err)
	}

	log.Info("source text extracted", "bytes", len(buf), "chars", len(text))
	return nil
}

// fail records the terminal error on the job and surfaces it to the caller.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error, log *slog.Logger) (*store.Job, error) {
	log.Error("job failed", "error", cause)

	status := store.StatusError
	msg := cause.Error()
	job, err := o.cfg.Store.Update(ctx, jobID, store.Update{
		Status:       &status,
		ErrorMessage: &msg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record job error (%v): %w", cause, err)
	}
	return job, cause
}
