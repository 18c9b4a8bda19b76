package retrieval

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// NoContextMarker is what prompts carry when retrieval found nothing above
// the similarity floor. The downstream stages must see an explicit marker,
// never an empty string that could be mistaken for a bug.
const NoContextMarker = "[no relevant knowledge found]"

// Entry is one retrieved snippet ready for prompt assembly.
type Entry struct {
	DocID   string
	Title   string
	DocType string
	Text    string
	Score   float32
}

// Context is the ordered grounding set for one lead, best match first.
type Context struct {
	Entries []Entry
}

// Empty reports whether nothing cleared the similarity floor.
func (c Context) Empty() bool { return len(c.Entries) == 0 }

// MeanScore averages the entry scores; zero when empty. This is the
// retrieval-quality input to confidence scoring.
func (c Context) MeanScore() float32 {
	if len(c.Entries) == 0 {
		return 0
	}
	var sum float32
	for _, e := range c.Entries {
		sum += e.Score
	}
	return sum / float32(len(c.Entries))
}

// Retriever runs the embed-then-search step and shapes the results into
// prompt-sized snippets.
type Retriever struct {
	embedder *Embedder
	index    VectorIndex

	topK          int
	floor         float32
	snippetBudget int
}

// NewRetriever wires an embedder and index with the retrieval tuning knobs.
func NewRetriever(embedder *Embedder, index VectorIndex, topK int, floor float32, snippetBudget int) *Retriever {
	return &Retriever{
		embedder:      embedder,
		index:         index,
		topK:          topK,
		floor:         floor,
		snippetBudget: snippetBudget,
	}
}

// Retrieve embeds the lead text exactly once and returns the snippets that
// clear the similarity floor, best first. An empty corpus or an all-misses
// query is not an error; the caller checks Context.Empty.
func (r *Retriever) Retrieve(ctx context.Context, text string) (Context, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return Context{}, err
	}

	hits, err := r.index.Query(vec, r.topK)
	if err != nil {
		return Context{}, fmt.Errorf("searching index: %w", err)
	}

	entries := make([]Entry, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.floor {
			continue
		}
		entries = append(entries, Entry{
			DocID:   h.DocID,
			Title:   h.Meta.Title,
			DocType: h.Meta.DocType,
			Text:    truncateSnippet(h.Meta.Body, r.snippetBudget),
			Score:   h.Score,
		})
	}
	return Context{Entries: entries}, nil
}

// truncateSnippet keeps the first budget runes of s. A mid-text cut appends
// an ellipsis so the prompt never ends on a silently chopped sentence.
func truncateSnippet(s string, budget int) string {
	if budget <= 0 || utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)
	return string(runes[:budget]) + "…"
}
