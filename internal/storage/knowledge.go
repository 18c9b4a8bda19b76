package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const knowledgeColumns = "id, title, body, doc_type, source_url, created_at"

// SaveKnowledgeDoc inserts or replaces a knowledge document. Corpus entries
// are never mutated in place: an edit replaces the whole row (and the caller
// re-embeds and upserts the vector).
func (s *Store) SaveKnowledgeDoc(d KnowledgeDoc) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_docs (id, title, body, doc_type, source_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			doc_type = excluded.doc_type,
			source_url = excluded.source_url,
			created_at = excluded.created_at`,
		d.ID, d.Title, d.Body, d.DocType, d.SourceURL, createdAt.Format(time.RFC3339),
	)
	return err
}

// GetKnowledgeDoc returns the document with the given id.
func (s *Store) GetKnowledgeDoc(id string) (KnowledgeDoc, error) {
	row := s.db.QueryRow(`SELECT `+knowledgeColumns+` FROM knowledge_docs WHERE id = ?`, id)
	d, err := scanKnowledgeDoc(row)
	if err == sql.ErrNoRows {
		return KnowledgeDoc{}, ErrNotFound
	}
	return d, err
}

// ListKnowledgeDocs returns documents newest-first.
func (s *Store) ListKnowledgeDocs(limit int) ([]KnowledgeDoc, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+knowledgeColumns+` FROM knowledge_docs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		d, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteKnowledgeDoc removes the document row. The caller is responsible for
// deleting the matching vector.
func (s *Store) DeleteKnowledgeDoc(id string) error {
	res, err := s.db.Exec(`DELETE FROM knowledge_docs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanKnowledgeDoc(r rowScanner) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt string
	err := r.Scan(&d.ID, &d.Title, &d.Body, &d.DocType, &d.SourceURL, &createdAt)
	if err != nil {
		return KnowledgeDoc{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return KnowledgeDoc{}, fmt.Errorf("parsing created_at for doc %s: %w", d.ID, err)
	}
	return d, nil
}
