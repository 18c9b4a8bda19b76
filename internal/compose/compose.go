// Package compose builds generation prompts deterministically. Same lead,
// context and tier always yield byte-identical prompts, which keeps the model
// call logger's input digests meaningful across retries.
package compose

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// groundingInstruction is present in every prompt regardless of tier. The
// model must not invent facts the snippets do not support.
const groundingInstruction = "Base every factual claim about our products, pricing and policies strictly on the KNOWLEDGE section. If the knowledge does not cover something, say you will follow up rather than inventing an answer."

// Template ids. Persisted with each generated message so a reviewer can see
// which playbook produced a draft.
const (
	TemplateHot  = "outreach-hot-v1"
	TemplateWarm = "outreach-warm-v1"
	TemplateCold = "outreach-cold-v1"
)

var tierGuidance = map[string]string{
	storage.TierHot: "This lead has clear buying intent. Write a direct, energetic reply that answers their question, proposes a concrete next step (a short call this week), and keeps the whole message under 150 words.",
	storage.TierWarm: "This lead is interested but not ready to buy. Write a helpful, low-pressure reply that answers their question, shares one relevant proof point from the knowledge, and invites them to reply with questions.",
	storage.TierCold: "This lead shows little buying intent. Write a brief, friendly acknowledgement that answers anything answerable from the knowledge and leaves the door open, with no sales push.",
}

// Request is a fully assembled generation prompt.
type Request struct {
	TemplateID string
	System     string
	User       string
}

// Builder assembles generation prompts from a lead, its tier and the
// retrieved context. It performs no I/O.
type Builder struct {
	maxSnippets int
	charBudget  int
}

// NewBuilder creates a Builder. maxSnippets caps how many retrieved entries
// the prompt carries; charBudget caps the total size of the knowledge block.
func NewBuilder(maxSnippets, charBudget int) *Builder {
	return &Builder{maxSnippets: maxSnippets, charBudget: charBudget}
}

// Build assembles the prompt for one draft. tier must be a valid intent tier;
// the context may be empty, in which case the knowledge block carries the
// explicit no-context marker and the guidance tells the model to stay generic.
func (b *Builder) Build(lead storage.Lead, tier string, rctx retrieval.Context) (Request, error) {
	guidance, ok := tierGuidance[tier]
	if !ok {
		return Request{}, fmt.Errorf("no template for tier %q", tier)
	}

	var sb strings.Builder
	sb.WriteString("You are a sales assistant for a small business. ")
	sb.WriteString(guidance)
	sb.WriteString("\n\n")
	sb.WriteString(groundingInstruction)
	sb.WriteString("\n\nRespond in exactly this format:\nSUBJECT: <subject line>\nBODY: <message body>")

	var ub strings.Builder
	ub.WriteString("LEAD\n")
	fmt.Fprintf(&ub, "Name: %s\n", lead.Name)
	if lead.Company != "" {
		fmt.Fprintf(&ub, "Company: %s\n", lead.Company)
	}
	fmt.Fprintf(&ub, "Message: %s\n", lead.Message)
	ub.WriteString("\nKNOWLEDGE\n")
	ub.WriteString(b.knowledgeBlock(rctx))

	return Request{
		TemplateID: templateID(tier),
		System:     sb.String(),
		User:       ub.String(),
	}, nil
}

// knowledgeBlock renders up to maxSnippets entries within the char budget,
// best match first. Entries that would overflow the budget are dropped whole,
// except the best match: if even it exceeds the budget on its own it is
// truncated rather than dropped, so the prompt never loses all grounding.
func (b *Builder) knowledgeBlock(rctx retrieval.Context) string {
	if rctx.Empty() {
		return retrieval.NoContextMarker + "\n"
	}

	var sb strings.Builder
	used := 0
	count := 0
	for _, e := range rctx.Entries {
		if count >= b.maxSnippets {
			break
		}
		block := fmt.Sprintf("[%s] %s (%s)\n%s\n\n", e.DocID, e.Title, e.DocType, e.Text)
		if used+len(block) > b.charBudget {
			if count == 0 {
				sb.WriteString(clip(block, b.charBudget))
			}
			break
		}
		sb.WriteString(block)
		used += len(block)
		count++
	}
	return sb.String()
}

// clip truncates s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func templateID(tier string) string {
	switch tier {
	case storage.TierHot:
		return TemplateHot
	case storage.TierWarm:
		return TemplateWarm
	default:
		return TemplateCold
	}
}
