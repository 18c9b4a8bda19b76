// Package corpus manages the knowledge base: adding documents from raw text,
// web pages and PDFs, keeping the vector index in sync with the document
// store, and seeding a starter corpus.
package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// Manager keeps knowledge_docs and the vector index consistent. A document
// exists in both or in neither; the vector is written last so a crash leaves
// at worst a row awaiting re-embedding, never a vector without a document.
type Manager struct {
	store    *storage.Store
	embedder *retrieval.Embedder
	index    retrieval.VectorIndex
	client   *http.Client
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store *storage.Store, embedder *retrieval.Embedder, index retrieval.VectorIndex, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		index:    index,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// AddRequest describes a document to add or replace. A zero ID means a new
// document; a known ID replaces the existing row and its vector.
type AddRequest struct {
	ID        string
	Title     string
	Body      string
	DocType   string
	SourceURL string
}

// Add embeds and stores one document. Embedding happens before any write so a
// provider failure leaves no partial state.
func (m *Manager) Add(ctx context.Context, req AddRequest) (storage.KnowledgeDoc, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return storage.KnowledgeDoc{}, errors.New("title and body are required")
	}
	if req.DocType == "" {
		req.DocType = storage.DocTypeOther
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	// Title carries signal too; embed it together with the body.
	vec, err := m.embedder.Embed(ctx, req.Title+"\n"+req.Body)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("embedding document: %w", err)
	}

	doc := storage.KnowledgeDoc{
		ID:        req.ID,
		Title:     req.Title,
		Body:      req.Body,
		DocType:   req.DocType,
		SourceURL: req.SourceURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveKnowledgeDoc(doc); err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("saving document: %w", err)
	}
	meta := retrieval.DocMeta{
		Title:     doc.Title,
		DocType:   doc.DocType,
		Body:      doc.Body,
		CreatedAt: doc.CreatedAt,
	}
	if err := m.index.Upsert(doc.ID, vec, meta); err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("indexing document: %w", err)
	}

	m.logger.Info("knowledge document stored", "doc_id", doc.ID, "doc_type", doc.DocType, "title", doc.Title)
	return doc, nil
}

// AddFromURL fetches a web page, extracts its readable text and adds it as a
// document. The page title becomes the document title unless one is given.
func (m *Manager) AddFromURL(ctx context.Context, pageURL, title, docType string) (storage.KnowledgeDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "bizpilot/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.KnowledgeDoc{}, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	body := extractText(doc)
	if body == "" {
		return storage.KnowledgeDoc{}, fmt.Errorf("no extractable text at %s", pageURL)
	}

	return m.Add(ctx, AddRequest{Title: title, Body: body, DocType: docType, SourceURL: pageURL})
}

// AddFromPDF extracts the plain text of a local PDF and adds it as a document.
func (m *Manager) AddFromPDF(ctx context.Context, path, title, docType string) (storage.KnowledgeDoc, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("reading pdf text: %w", err)
	}

	body := strings.TrimSpace(buf.String())
	if body == "" {
		return storage.KnowledgeDoc{}, fmt.Errorf("pdf %s contains no extractable text", path)
	}
	if title == "" {
		title = path
	}

	return m.Add(ctx, AddRequest{Title: title, Body: body, DocType: docType, SourceURL: "file://" + path})
}

// Delete removes a document and its vector. A vector missing from the index
// is tolerated; the document row is the source of truth.
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteKnowledgeDoc(id); err != nil {
		return err
	}
	if err := m.index.Delete(id); err != nil {
		m.logger.Warn("vector already absent for deleted document", "doc_id", id, "error", err)
	}
	return nil
}

// extractText collects paragraph-level text, skipping script and style noise.
func extractText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p, h1, h2, h3, li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}
