// Package classify assigns an intent tier to a lead using structured model
// output grounded in retrieved knowledge.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/modellog"
	"github.com/bizpilot/bizpilot/internal/ollama"
	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

const rubric = `You triage inbound sales leads for a small business. Assign exactly one tier:

- "hot": explicit buying intent. Asks about pricing, timelines, contracts, onboarding, or requests a call or demo.
- "warm": genuine interest without a buying signal. Asks how the product works, compares options, mentions a future need.
- "cold": no meaningful buying intent. Vague outreach, mass marketing, job seeking, or off-topic.

Use the KNOWLEDGE snippets to judge whether the lead's request matches what we actually offer. Cite the snippet ids that informed your decision in evidence_ids; leave it empty if none did.`

const strictRetryInstruction = "Your previous answer was not valid. Respond with ONLY a JSON object with fields tier (one of \"hot\", \"warm\", \"cold\"), confidence (number between 0 and 1), explanation (string), evidence_ids (array of strings). No prose, no markdown fences."

// outputSchema constrains the model to the classification shape.
var outputSchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"tier":         {Type: "string", Description: "one of hot, warm, cold"},
		"confidence":   {Type: "number", Description: "model's own confidence between 0 and 1"},
		"explanation":  {Type: "string", Description: "one or two sentences justifying the tier"},
		"evidence_ids": {Type: "array", Items: &ollama.SchemaProperty{Type: "string"}},
	},
	Required: []string{"tier", "confidence", "explanation", "evidence_ids"},
}

// Chatter is the slice of the inference client the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (ollama.ChatResult, error)
}

// Result is a validated classification. Confidence here is the model's own
// claim; the persisted confidence comes from the deterministic scorer.
type Result struct {
	Tier        string
	Confidence  float64
	Explanation string
	EvidenceIDs []string
}

// Classifier runs the tiering call against the model.
type Classifier struct {
	chatter Chatter
	model   string
	audit   *modellog.Logger
}

// New creates a Classifier bound to one chat model.
func New(chatter Chatter, model string, audit *modellog.Logger) *Classifier {
	return &Classifier{chatter: chatter, model: model, audit: audit}
}

// rawOutput mirrors the JSON shape the model is asked to produce.
type rawOutput struct {
	Tier        string   `json:"tier"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// Classify assigns a tier to the lead. Malformed model output gets exactly
// one stricter retry; a second malformed answer is a fatal classification
// failure. Provider errors pass through unchanged so the orchestrator can
// retry the whole job.
func (c *Classifier) Classify(ctx context.Context, lead storage.Lead, rctx retrieval.Context) (Result, error) {
	messages := []ollama.Message{
		{Role: "system", Content: rubric},
		{Role: "user", Content: userPrompt(lead, rctx)},
	}

	res, parseErr, err := c.attempt(ctx, messages, rctx)
	if err != nil {
		return Result{}, err
	}
	if parseErr == nil {
		return res, nil
	}

	// One stricter retry for malformed output only.
	messages = append(messages, ollama.Message{Role: "user", Content: strictRetryInstruction})
	res, parseErr, err = c.attempt(ctx, messages, rctx)
	if err != nil {
		return Result{}, err
	}
	if parseErr != nil {
		return Result{}, faults.Classification(fmt.Errorf("output invalid after strict retry: %w", parseErr))
	}
	return res, nil
}

// attempt makes one model call and records one audit row. The three returns
// separate transport failures (err, retryable by the orchestrator) from
// malformed output (parseErr, handled by the stricter retry).
func (c *Classifier) attempt(ctx context.Context, messages []ollama.Message, rctx retrieval.Context) (Result, error, error) {
	input := flatten(messages)
	start := time.Now()
	chat, err := c.chatter.Chat(ctx, c.model, messages, outputSchema)
	latency := time.Since(start)
	if err != nil {
		c.audit.Record(modellog.Call{
			Operation: "classify",
			Input:     input,
			Latency:   latency,
			Success:   false,
		})
		return Result{}, nil, err
	}

	res, parseErr := parse(chat.Content, rctx)
	c.audit.Record(modellog.Call{
		Operation:  "classify",
		Input:      input,
		Output:     chat.Content,
		Latency:    latency,
		Tokens:     chat.TotalTokens(),
		Confidence: res.Confidence,
		Success:    parseErr == nil,
	})
	return res, parseErr, nil
}

// parse validates the model's JSON. Unknown tiers, out-of-range confidence
// and evidence ids not present in the retrieved context all count as
// malformed output.
func parse(content string, rctx retrieval.Context) (Result, error) {
	var raw rawOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Result{}, fmt.Errorf("decoding output: %w", err)
	}
	if !storage.ValidTier(raw.Tier) {
		return Result{}, fmt.Errorf("unknown tier %q", raw.Tier)
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return Result{}, fmt.Errorf("confidence %v out of range", raw.Confidence)
	}

	known := make(map[string]bool, len(rctx.Entries))
	for _, e := range rctx.Entries {
		known[e.DocID] = true
	}
	for _, id := range raw.EvidenceIDs {
		if !known[id] {
			return Result{}, fmt.Errorf("evidence id %q not in retrieved context", id)
		}
	}

	return Result{
		Tier:        raw.Tier,
		Confidence:  raw.Confidence,
		Explanation: raw.Explanation,
		EvidenceIDs: raw.EvidenceIDs,
	}, nil
}

func userPrompt(lead storage.Lead, rctx retrieval.Context) string {
	var sb strings.Builder
	sb.WriteString("LEAD\n")
	fmt.Fprintf(&sb, "Name: %s\n", lead.Name)
	if lead.Company != "" {
		fmt.Fprintf(&sb, "Company: %s\n", lead.Company)
	}
	if lead.Source != "" {
		fmt.Fprintf(&sb, "Source: %s\n", lead.Source)
	}
	fmt.Fprintf(&sb, "Message: %s\n\nKNOWLEDGE\n", lead.Message)

	if rctx.Empty() {
		sb.WriteString(retrieval.NoContextMarker + "\n")
		return sb.String()
	}
	for _, e := range rctx.Entries {
		fmt.Fprintf(&sb, "[%s] %s (%s)\n%s\n\n", e.DocID, e.Title, e.DocType, e.Text)
	}
	return sb.String()
}

func flatten(messages []ollama.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
