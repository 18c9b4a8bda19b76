package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bizpilot/bizpilot/internal/faults"
	"github.com/bizpilot/bizpilot/internal/modellog"
	"github.com/bizpilot/bizpilot/internal/ollama"
	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

type mockChatter struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockChatter) Chat(_ context.Context, _ string, _ []ollama.Message, _ *ollama.Schema) (ollama.ChatResult, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return ollama.ChatResult{}, m.errs[i]
	}
	return ollama.ChatResult{Content: m.responses[i], PromptTokens: 50, CompletionTokens: 10}, nil
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

func newTestClassifier(chatter Chatter) (*Classifier, *recordingAppender) {
	rec := &recordingAppender{}
	audit := modellog.New(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(chatter, "test-model", audit), rec
}

func testContext() retrieval.Context {
	return retrieval.Context{Entries: []retrieval.Entry{
		{DocID: "doc-1", Title: "Pricing", DocType: "pricing", Text: "Growth is $4,000/month", Score: 0.9},
	}}
}

func testLead() storage.Lead {
	return storage.Lead{ID: "l1", Name: "Ada", Message: "How much is the Growth tier?"}
}

const validOutput = `{"tier":"hot","confidence":0.85,"explanation":"asks about pricing","evidence_ids":["doc-1"]}`

func TestClassifyValidOutput(t *testing.T) {
	chatter := &mockChatter{responses: []string{validOutput}}
	c, rec := newTestClassifier(chatter)

	res, err := c.Classify(context.Background(), testLead(), testContext())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Tier != storage.TierHot || res.Confidence != 0.85 {
		t.Errorf("result = %+v", res)
	}
	if len(res.EvidenceIDs) != 1 || res.EvidenceIDs[0] != "doc-1" {
		t.Errorf("evidence = %v, want [doc-1]", res.EvidenceIDs)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rec.calls))
	}
	row := rec.calls[0]
	if row.Operation != "classify" || !row.Success || row.Tokens != 60 {
		t.Errorf("audit row = %+v", row)
	}
	if row.InputDigest == "" || row.OutputDigest == "" {
		t.Errorf("audit row missing digests: %+v", row)
	}
}

func TestClassifyRetriesOnceOnMalformedOutput(t *testing.T) {
	chatter := &mockChatter{responses: []string{"not json at all", validOutput}}
	c, rec := newTestClassifier(chatter)

	res, err := c.Classify(context.Background(), testLead(), testContext())
	if err != nil {
		t.Fatalf("Classify after retry: %v", err)
	}
	if res.Tier != storage.TierHot {
		t.Errorf("tier = %q, want hot", res.Tier)
	}
	if chatter.calls != 2 {
		t.Errorf("model calls = %d, want 2", chatter.calls)
	}
	// Both attempts are audited, the failed one included.
	if len(rec.calls) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(rec.calls))
	}
	if rec.calls[0].Success || !rec.calls[1].Success {
		t.Errorf("audit success flags = %v/%v, want false/true", rec.calls[0].Success, rec.calls[1].Success)
	}
}

func TestClassifyFatalAfterSecondMalformed(t *testing.T) {
	chatter := &mockChatter{responses: []string{"garbage", "still garbage"}}
	c, _ := newTestClassifier(chatter)

	_, err := c.Classify(context.Background(), testLead(), testContext())
	if err == nil {
		t.Fatal("Classify succeeded on garbage")
	}
	if faults.KindOf(err) != faults.KindClassification {
		t.Errorf("kind = %s, want classification_failure", faults.KindOf(err))
	}
	if faults.IsTransient(err) {
		t.Errorf("classification failure is transient, want fatal")
	}
	if chatter.calls != 2 {
		t.Errorf("model calls = %d, want exactly 2", chatter.calls)
	}
}

func TestClassifyProviderErrorPassesThrough(t *testing.T) {
	cause := faults.Provider(errors.New("connection refused"))
	chatter := &mockChatter{errs: []error{cause}, responses: []string{""}}
	c, rec := newTestClassifier(chatter)

	_, err := c.Classify(context.Background(), testLead(), testContext())
	if err == nil {
		t.Fatal("Classify succeeded on provider error")
	}
	if !faults.IsTransient(err) {
		t.Errorf("provider error not transient: %v", err)
	}
	if chatter.calls != 1 {
		t.Errorf("model calls = %d, want 1 (no strict retry for transport errors)", chatter.calls)
	}
	if len(rec.calls) != 1 || rec.calls[0].Success {
		t.Errorf("failed attempt not audited: %+v", rec.calls)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		output string
	}{
		{"unknown tier", `{"tier":"lukewarm","confidence":0.5,"explanation":"x","evidence_ids":[]}`},
		{"confidence above one", `{"tier":"hot","confidence":1.5,"explanation":"x","evidence_ids":[]}`},
		{"negative confidence", `{"tier":"hot","confidence":-0.1,"explanation":"x","evidence_ids":[]}`},
		{"unknown evidence id", `{"tier":"hot","confidence":0.5,"explanation":"x","evidence_ids":["doc-99"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parse(tc.output, testContext()); err == nil {
				t.Errorf("parse accepted %s", tc.output)
			}
		})
	}
}

func TestUserPromptCarriesNoContextMarker(t *testing.T) {
	prompt := userPrompt(testLead(), retrieval.Context{})
	if !strings.Contains(prompt, retrieval.NoContextMarker) {
		t.Errorf("prompt missing no-context marker:\n%s", prompt)
	}
}
