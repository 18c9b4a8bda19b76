package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

type stubEmbedClient struct{}

func (stubEmbedClient) Embed(_ context.Context, _, text string) ([]float32, error) {
	// Deterministic vector derived from length, good enough for wiring tests.
	return []float32{float32(len(text)), 1}, nil
}

func newTestManager(t *testing.T) (*Manager, *storage.Store, *retrieval.SQLiteIndex) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := retrieval.NewSQLiteIndex(store.DB())
	embedder := retrieval.NewEmbedder(stubEmbedClient{}, "embed-model")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, embedder, index, logger), store, index
}

func TestAddStoresDocAndVector(t *testing.T) {
	m, store, index := newTestManager(t)

	doc, err := m.Add(context.Background(), AddRequest{
		Title:   "Pricing tiers",
		Body:    "Growth is $4,000/month",
		DocType: storage.DocTypePricing,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("Add returned empty id")
	}

	stored, err := store.GetKnowledgeDoc(doc.ID)
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if stored.Title != "Pricing tiers" {
		t.Errorf("stored title = %q", stored.Title)
	}

	n, err := index.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("index count = %d, want 1", n)
	}
}

func TestAddRejectsEmptyFields(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Add(context.Background(), AddRequest{Title: "x"}); err == nil {
		t.Error("Add accepted empty body")
	}
	if _, err := m.Add(context.Background(), AddRequest{Body: "x"}); err == nil {
		t.Error("Add accepted empty title")
	}
}

func TestDeleteRemovesDocAndVector(t *testing.T) {
	m, store, index := newTestManager(t)

	doc, err := m.Add(context.Background(), AddRequest{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := m.Delete(doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetKnowledgeDoc(doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("doc still present after delete: %v", err)
	}
	n, _ := index.Count()
	if n != 0 {
		t.Errorf("index count = %d after delete, want 0", n)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	m, store, index := newTestManager(t)

	n, err := m.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != len(seedDocs) {
		t.Errorf("seeded %d docs, want %d", n, len(seedDocs))
	}

	// A second run replaces rather than duplicates.
	if _, err := m.Seed(context.Background()); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	docs, err := store.ListKnowledgeDocs(100)
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(docs) != len(seedDocs) {
		t.Errorf("doc count after reseed = %d, want %d", len(docs), len(seedDocs))
	}
	count, _ := index.Count()
	if count != len(seedDocs) {
		t.Errorf("vector count after reseed = %d, want %d", count, len(seedDocs))
	}
}

func TestAddFromURLExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Refund policy</title><script>ignore()</script></head>
			<body><h1>Refunds</h1><p>Cancel with 30 days notice.</p></body></html>`)
	}))
	defer srv.Close()

	m, _, _ := newTestManager(t)
	doc, err := m.AddFromURL(context.Background(), srv.URL, "", storage.DocTypePolicy)
	if err != nil {
		t.Fatalf("AddFromURL: %v", err)
	}
	if doc.Title != "Refund policy" {
		t.Errorf("title = %q, want page title", doc.Title)
	}
	if !strings.Contains(doc.Body, "Cancel with 30 days notice.") {
		t.Errorf("body missing paragraph text: %q", doc.Body)
	}
	if strings.Contains(doc.Body, "ignore()") {
		t.Errorf("body contains script text: %q", doc.Body)
	}
	if doc.SourceURL != srv.URL {
		t.Errorf("source url = %q", doc.SourceURL)
	}
}

func TestAddFromURLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, _, _ := newTestManager(t)
	if _, err := m.AddFromURL(context.Background(), srv.URL, "t", ""); err == nil {
		t.Error("AddFromURL succeeded on 404")
	}
}
