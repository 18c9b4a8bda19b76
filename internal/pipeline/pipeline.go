// Package pipeline runs the per-lead triage sequence: retrieve, classify,
// compose, generate, score. It builds the records for one run; persisting
// them and deciding retries belongs to the orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bizpilot/bizpilot/internal/classify"
	"github.com/bizpilot/bizpilot/internal/compose"
	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/generate"
	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/scoring"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// fallbackConfidence is the fixed score for static fallback drafts. A canned
// message earns no credit from retrieval or tier, and a reviewer should always
// look at it before sending.
const fallbackConfidence = 0.3

// Outcome is the result of one successful pipeline run, not yet persisted.
type Outcome struct {
	Classification storage.ClassificationResult
	Message        storage.GeneratedMessage
}

// Runner executes the triage stages in order for one lead.
type Runner struct {
	retriever  *retrieval.Retriever
	classifier *classify.Classifier
	builder    *compose.Builder
	generator  *generate.Generator
	scorer     *scoring.Scorer
	logger     *slog.Logger
}

// NewRunner wires the five stages.
func NewRunner(
	retriever *retrieval.Retriever,
	classifier *classify.Classifier,
	builder *compose.Builder,
	generator *generate.Generator,
	scorer *scoring.Scorer,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		retriever:  retriever,
		classifier: classifier,
		builder:    builder,
		generator:  generator,
		scorer:     scorer,
		logger:     logger,
	}
}

// Run executes the full sequence for one lead. Stages run strictly in order;
// the context is checked between stages so cancellation never starts a model
// call it cannot finish. Errors keep their fault categorization for the
// orchestrator's retry decision.
func (r *Runner) Run(ctx context.Context, lead storage.Lead) (Outcome, error) {
	rctx, err := r.retriever.Retrieve(ctx, lead.Message)
	if err != nil {
		return Outcome{}, err
	}
	if rctx.Empty() {
		r.logger.Info("no knowledge above similarity floor", "lead_id", lead.ID)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	cls, err := r.classifier.Classify(ctx, lead, rctx)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	quality := float64(rctx.MeanScore())
	classConfidence := r.scorer.ScoreClassification(quality, cls.Tier)

	req, err := r.builder.Build(lead, cls.Tier, rctx)
	if err != nil {
		return Outcome{}, err
	}

	draft, err := r.generator.Generate(ctx, req)
	if err != nil {
		if faults.IsTransient(err) {
			return Outcome{}, err
		}
		// Non-transient generation failure: ship the static fallback rather
		// than losing an already valid classification.
		r.logger.Warn("generation failed fatally, using fallback draft",
			"lead_id", lead.ID, "tier", cls.Tier, "error", err)
		draft = generate.Fallback(cls.Tier)
	}

	msgConfidence := r.scorer.ScoreMessage(quality, cls.Tier, len(draft.Body))
	if draft.Fallback {
		msgConfidence = fallbackConfidence
	}
	evidence := evidenceJSON(cls.EvidenceIDs)
	now := time.Now().UTC()

	return Outcome{
		Classification: storage.ClassificationResult{
			ID:          uuid.NewString(),
			LeadID:      lead.ID,
			Tier:        cls.Tier,
			Confidence:  classConfidence,
			Explanation: cls.Explanation,
			EvidenceIDs: evidence,
			CreatedAt:   now,
		},
		Message: storage.GeneratedMessage{
			ID:          uuid.NewString(),
			LeadID:      lead.ID,
			Subject:     draft.Subject,
			Body:        draft.Body,
			Channel:     "email",
			Confidence:  msgConfidence,
			Status:      storage.MessageStatusGenerated,
			EvidenceIDs: evidence,
			TemplateID:  draft.TemplateID,
			CreatedAt:   now,
		},
	}, nil
}

func evidenceJSON(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}
