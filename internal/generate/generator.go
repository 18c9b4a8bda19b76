// Package generate produces draft outreach messages from composed prompts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bizpilot/bizpilot/internal/compose"
	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/modellog"
	"github.com/bizpilot/bizpilot/internal/ollama"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// Chatter is the slice of the inference client the generator needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (ollama.ChatResult, error)
}

// Draft is a parsed candidate message.
type Draft struct {
	Subject    string
	Body       string
	TemplateID string
	Fallback   bool
}

// Generator runs the drafting call against the model.
type Generator struct {
	chatter Chatter
	model   string
	audit   *modellog.Logger
}

// New creates a Generator bound to one chat model.
func New(chatter Chatter, model string, audit *modellog.Logger) *Generator {
	return &Generator{chatter: chatter, model: model, audit: audit}
}

// Generate produces one draft from a composed prompt. Every attempt writes an
// audit row. Errors that are already categorized faults pass through so the
// orchestrator sees the original kind and any rate-limit hint.
func (g *Generator) Generate(ctx context.Context, req compose.Request) (Draft, error) {
	messages := []ollama.Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.User},
	}
	input := req.System + "\n" + req.User

	start := time.Now()
	chat, err := g.chatter.Chat(ctx, g.model, messages, nil)
	latency := time.Since(start)
	if err != nil {
		g.audit.Record(modellog.Call{
			Operation: "generate_message",
			Input:     input,
			Latency:   latency,
			Success:   false,
		})
		var f *faults.Fault
		if errors.As(err, &f) {
			return Draft{}, err
		}
		return Draft{}, faults.Generation(fmt.Errorf("drafting message: %w", err))
	}

	g.audit.Record(modellog.Call{
		Operation: "generate_message",
		Input:     input,
		Output:    chat.Content,
		Latency:   latency,
		Tokens:    chat.TotalTokens(),
		Success:   true,
	})

	subject, body := parseDraft(chat.Content)
	return Draft{Subject: subject, Body: body, TemplateID: req.TemplateID}, nil
}

// parseDraft splits "SUBJECT: ...\nBODY: ..." output. A response missing the
// markers is still usable: the whole content becomes the body under a
// generic subject, rather than discarding a plausible draft.
func parseDraft(content string) (subject, body string) {
	content = strings.TrimSpace(content)
	subject = "Re: your inquiry"

	lower := strings.ToLower(content)
	si := strings.Index(lower, "subject:")
	bi := strings.Index(lower, "body:")
	if si < 0 || bi < 0 || bi < si {
		return subject, content
	}

	if s := strings.TrimSpace(content[si+len("subject:") : bi]); s != "" {
		subject = s
	}
	if b := strings.TrimSpace(content[bi+len("body:"):]); b != "" {
		body = b
	} else {
		body = content
	}
	return subject, body
}

var fallbackBodies = map[string]string{
	storage.TierHot:  "Thanks for reaching out! I'd love to walk you through how we can help. Do you have 15 minutes this week for a quick call? Reply with a couple of times that work and I'll send an invite.",
	storage.TierWarm: "Thanks for your interest! I'd be happy to answer any questions about how we work. Feel free to reply here and I'll get back to you with details.",
	storage.TierCold: "Thanks for getting in touch. I've noted your message and we'll reach out if there's a good fit. Don't hesitate to reply if you have any questions in the meantime.",
}

// Fallback returns the static per-tier draft used when the model cannot
// produce one. It is deliberately generic: no knowledge claims, no specifics
// that could be wrong.
func Fallback(tier string) Draft {
	body, ok := fallbackBodies[tier]
	if !ok {
		body = fallbackBodies[storage.TierCold]
	}
	return Draft{
		Subject:    "Re: your inquiry",
		Body:       body,
		TemplateID: "fallback-" + tier + "-v1",
		Fallback:   true,
	}
}
