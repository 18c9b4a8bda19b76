package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bizpilot/bizpilot/internal/compose"
	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/modellog"
	"github.com/bizpilot/bizpilot/internal/ollama"
	"github.com/bizpilot/bizpilot/internal/storage"
)

type mockChatter struct {
	content string
	err     error
	calls   int
}

func (m *mockChatter) Chat(_ context.Context, _ string, _ []ollama.Message, _ *ollama.Schema) (ollama.ChatResult, error) {
	m.calls++
	if m.err != nil {
		return ollama.ChatResult{}, m.err
	}
	return ollama.ChatResult{Content: m.content, PromptTokens: 100, CompletionTokens: 40}, nil
}

type recordingAppender struct {
	mu    sync.Mutex
	calls []storage.ModelCall
}

func (r *recordingAppender) AppendModelCall(c storage.ModelCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

func newTestGenerator(chatter Chatter) (*Generator, *recordingAppender) {
	rec := &recordingAppender{}
	audit := modellog.New(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(chatter, "test-model", audit), rec
}

func testRequest() compose.Request {
	return compose.Request{
		TemplateID: compose.TemplateHot,
		System:     "You are a sales assistant.",
		User:       "LEAD\nName: Ada\n",
	}
}

func TestGenerateParsesSubjectAndBody(t *testing.T) {
	chatter := &mockChatter{content: "SUBJECT: Growth tier pricing\nBODY: Hi Ada, the Growth tier is $4,000/month."}
	g, rec := newTestGenerator(chatter)

	draft, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Subject != "Growth tier pricing" {
		t.Errorf("subject = %q", draft.Subject)
	}
	if draft.Body != "Hi Ada, the Growth tier is $4,000/month." {
		t.Errorf("body = %q", draft.Body)
	}
	if draft.TemplateID != compose.TemplateHot || draft.Fallback {
		t.Errorf("draft = %+v", draft)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rec.calls))
	}
	if rec.calls[0].Operation != "generate_message" || !rec.calls[0].Success || rec.calls[0].Tokens != 140 {
		t.Errorf("audit row = %+v", rec.calls[0])
	}
}

func TestGenerateMissingMarkersKeepsContent(t *testing.T) {
	chatter := &mockChatter{content: "Hi Ada, thanks for reaching out about pricing."}
	g, _ := newTestGenerator(chatter)

	draft, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Body != "Hi Ada, thanks for reaching out about pricing." {
		t.Errorf("body = %q, want whole content", draft.Body)
	}
	if draft.Subject == "" {
		t.Errorf("subject empty, want generic default")
	}
}

func TestGenerateProviderErrorKeepsFaultKind(t *testing.T) {
	cause := faults.RateLimited(errors.New("429"), 0)
	chatter := &mockChatter{err: cause}
	g, rec := newTestGenerator(chatter)

	_, err := g.Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("Generate succeeded on provider error")
	}
	if faults.KindOf(err) != faults.KindRateLimited {
		t.Errorf("kind = %s, want rate_limited preserved", faults.KindOf(err))
	}
	if len(rec.calls) != 1 || rec.calls[0].Success {
		t.Errorf("failed attempt not audited: %+v", rec.calls)
	}
}

func TestGenerateWrapsUncategorizedErrors(t *testing.T) {
	chatter := &mockChatter{err: errors.New("plain failure")}
	g, _ := newTestGenerator(chatter)

	_, err := g.Generate(context.Background(), testRequest())
	if faults.KindOf(err) != faults.KindGeneration {
		t.Errorf("kind = %s, want generation_failure", faults.KindOf(err))
	}
	if !faults.IsTransient(err) {
		t.Errorf("generation failure not transient")
	}
}

func TestParseDraftCaseInsensitive(t *testing.T) {
	subject, body := parseDraft("subject: Hello\nbody: World")
	if subject != "Hello" || body != "World" {
		t.Errorf("parseDraft = %q/%q", subject, body)
	}
}

func TestFallbackPerTier(t *testing.T) {
	for _, tier := range []string{storage.TierHot, storage.TierWarm, storage.TierCold} {
		d := Fallback(tier)
		if d.Body == "" || d.Subject == "" {
			t.Errorf("fallback for %s incomplete: %+v", tier, d)
		}
		if !d.Fallback {
			t.Errorf("fallback for %s not flagged", tier)
		}
	}
	if Fallback(storage.TierHot).Body == Fallback(storage.TierCold).Body {
		t.Errorf("hot and cold fallbacks identical")
	}
}
