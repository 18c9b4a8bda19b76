// Package orchestrator owns job claiming, retry policy and result
// persistence. It is the only component that decides whether a failure is
// worth another attempt.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/pipeline"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// JobTypeTriageLead is the queue type for per-lead triage runs.
const JobTypeTriageLead = "triage_lead"

type triagePayload struct {
	LeadID string `json:"lead_id"`
}

// NewTriageJob builds a pending triage job for one lead.
func NewTriageJob(leadID string, maxAttempts int) storage.Job {
	payload, _ := json.Marshal(triagePayload{LeadID: leadID})
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeTriageLead,
		PayloadJSON: string(payload),
		MaxAttempts: maxAttempts,
	}
}

// Options are the orchestrator tuning knobs, filled from config.
type Options struct {
	Workers     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	RunTimeout  time.Duration
	Poll        time.Duration
}

// Runner is the per-lead pipeline the orchestrator drives.
type Runner interface {
	Run(ctx context.Context, lead storage.Lead) (pipeline.Outcome, error)
}

// Orchestrator runs the worker pool over the job queue.
type Orchestrator struct {
	store  *storage.Store
	runner Runner
	opts   Options
	logger *slog.Logger

	inflight *leadRegistry
}

// New creates an Orchestrator.
func New(store *storage.Store, runner Runner, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{
		store:    store,
		runner:   runner,
		opts:     opts,
		logger:   logger,
		inflight: newLeadRegistry(),
	}
}

// Run blocks, claiming and processing jobs with the configured worker count,
// until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.opts.Workers; i++ {
		g.Go(func() error {
			return o.workerLoop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) workerLoop(ctx context.Context) error {
	for {
		job, err := o.store.ClaimNextJob([]string{JobTypeTriageLead})
		if err != nil {
			o.logger.Error("claiming job", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.opts.Poll):
			}
			continue
		}
		o.process(ctx, job)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// process handles one claimed job end to end.
func (o *Orchestrator) process(ctx context.Context, job *storage.Job) {
	var payload triagePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.LeadID == "" {
		o.failJob(job, fmt.Errorf("invalid payload: %v", err))
		return
	}
	leadID := payload.LeadID

	// At most one run per lead at a time across this process. A colliding job
	// goes back to pending without burning an attempt.
	if !o.inflight.acquire(leadID) {
		if err := o.store.DeferJob(job.ID, time.Now().Add(o.opts.Poll)); err != nil {
			o.logger.Error("deferring job", "job_id", job.ID, "error", err)
		}
		return
	}
	defer o.inflight.release(leadID)

	// Idempotency: a lead that already has an active classification is done,
	// whatever queue history led here.
	if _, err := o.store.ActiveClassification(leadID); err == nil {
		o.logger.Info("lead already classified, completing job", "lead_id", leadID, "job_id", job.ID)
		o.completeJob(job)
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		o.retryOrFail(job, leadID, faults.Provider(fmt.Errorf("checking classification: %w", err)))
		return
	}

	lead, err := o.store.GetLead(leadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.failJob(job, fmt.Errorf("lead %s not found", leadID))
			return
		}
		o.retryOrFail(job, leadID, faults.Provider(fmt.Errorf("loading lead: %w", err)))
		return
	}

	runCtx := ctx
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	outcome, err := o.runner.Run(runCtx, lead)
	if err != nil {
		o.retryOrFail(job, leadID, err)
		return
	}

	if err := o.persist(outcome); err != nil {
		o.retryOrFail(job, leadID, faults.Provider(err))
		return
	}
	o.completeJob(job)
	o.logger.Info("lead triaged",
		"lead_id", leadID,
		"tier", outcome.Classification.Tier,
		"confidence", outcome.Classification.Confidence)
}

// persist writes the run's records and promotes the lead to triaged, all in
// one transaction so a crash between writes cannot leave a classified lead
// without its message.
func (o *Orchestrator) persist(out pipeline.Outcome) error {
	if err := o.store.SaveTriageOutcome(out.Classification, out.Message); err != nil {
		return fmt.Errorf("saving triage outcome: %w", err)
	}
	return nil
}

// retryOrFail applies the retry policy: transient faults get exponential
// backoff with jitter until the attempt budget runs out; everything else
// fails the job and the lead immediately. Cancellation is neither: a run cut
// short by shutdown goes back to pending untouched, and a run deadline
// expiring counts as one more transient failure.
func (o *Orchestrator) retryOrFail(job *storage.Job, leadID string, cause error) {
	if errors.Is(cause, context.Canceled) {
		o.logger.Info("run cancelled, returning job to the queue",
			"lead_id", leadID, "job_id", job.ID)
		if err := o.store.DeferJob(job.ID, time.Now()); err != nil {
			o.logger.Error("re-queueing cancelled job", "job_id", job.ID, "error", err)
		}
		return
	}

	attempt := job.Attempts + 1 // the attempt that just failed
	transient := faults.IsTransient(cause) || errors.Is(cause, context.DeadlineExceeded)

	if transient && attempt < job.MaxAttempts {
		delay := o.backoff(job.Attempts)
		if hint := faults.RetryAfterHint(cause); hint > delay {
			delay = hint
		}
		o.logger.Warn("transient failure, scheduling retry",
			"lead_id", leadID, "job_id", job.ID,
			"attempt", attempt, "delay", delay, "error", cause)
		if err := o.store.RetryJob(job.ID, cause.Error(), time.Now().Add(delay)); err != nil {
			o.logger.Error("scheduling retry", "job_id", job.ID, "error", err)
		}
		return
	}

	final := cause
	if transient {
		final = faults.Exhausted(attempt, cause)
	}
	o.logger.Error("lead triage failed terminally",
		"lead_id", leadID, "job_id", job.ID, "attempts", attempt, "error", final)
	if err := o.store.FailJob(job.ID, final.Error()); err != nil {
		o.logger.Error("failing job", "job_id", job.ID, "error", err)
	}
	if err := o.store.MarkLeadFailed(leadID, final.Error()); err != nil {
		o.logger.Error("marking lead failed", "lead_id", leadID, "error", err)
	}
}

// backoff computes base * 2^priorAttempts capped at the maximum, plus up to
// 25% jitter so retries from concurrent failures spread out.
func (o *Orchestrator) backoff(priorAttempts int) time.Duration {
	delay := o.opts.BaseBackoff
	for i := 0; i < priorAttempts && delay < o.opts.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > o.opts.MaxBackoff {
		delay = o.opts.MaxBackoff
	}
	if delay > 0 {
		delay += rand.N(delay / 4)
	}
	return delay
}

func (o *Orchestrator) completeJob(job *storage.Job) {
	if err := o.store.CompleteJob(job.ID); err != nil {
		o.logger.Error("completing job", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) failJob(job *storage.Job, cause error) {
	o.logger.Error("job failed", "job_id", job.ID, "error", cause)
	if err := o.store.FailJob(job.ID, cause.Error()); err != nil {
		o.logger.Error("failing job", "job_id", job.ID, "error", err)
	}
}
