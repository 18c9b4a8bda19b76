package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const messageColumns = "id, lead_id, subject, body, channel, confidence, status, evidence_ids, template_id, created_at, updated_at"

// SaveMessage inserts a newly generated message.
func (s *Store) SaveMessage(m GeneratedMessage) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := m.Status
	if status == "" {
		status = MessageStatusGenerated
	}
	channel := m.Channel
	if channel == "" {
		channel = "email"
	}
	evidence := m.EvidenceIDs
	if evidence == "" {
		evidence = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, lead_id, subject, body, channel, confidence, status, evidence_ids, template_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LeadID, m.Subject, m.Body, channel, m.Confidence, status, evidence, m.TemplateID, now, now,
	)
	return err
}

// GetMessage returns the message with the given id.
func (s *Store) GetMessage(id string) (GeneratedMessage, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return GeneratedMessage{}, ErrNotFound
	}
	return m, err
}

// MessageFilter narrows ListMessages. Zero values mean "no filter".
type MessageFilter struct {
	LeadID string
	Status string
	Limit  int
	Offset int
}

// ListMessages returns messages newest-first, optionally filtered.
func (s *Store) ListMessages(f MessageFilter) ([]GeneratedMessage, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := sq.Select(messageColumns).
		From("messages").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(f.Offset))
	if f.LeadID != "" {
		q = q.Where(sq.Eq{"lead_id": f.LeadID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building message query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []GeneratedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// PendingMessageForLead returns the "generated" message awaiting review for
// the lead, or ErrNotFound.
func (s *Store) PendingMessageForLead(leadID string) (GeneratedMessage, error) {
	row := s.db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE lead_id = ? AND status = ?`, leadID, MessageStatusGenerated)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return GeneratedMessage{}, ErrNotFound
	}
	return m, err
}

// ReviewMessage applies a review transition (approved, edited, rejected) on
// behalf of the external review collaborator. When the status is "edited",
// subject and body overwrite the stored content.
func (s *Store) ReviewMessage(id, status, subject, body string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var res sql.Result
	var err error
	if status == MessageStatusEdited {
		res, err = s.db.Exec(`
			UPDATE messages SET status = ?, subject = ?, body = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			status, subject, body, now, id, MessageStatusGenerated,
		)
	} else {
		res, err = s.db.Exec(`
			UPDATE messages SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			status, now, id, MessageStatusGenerated,
		)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanMessage(r rowScanner) (GeneratedMessage, error) {
	var m GeneratedMessage
	var createdAt, updatedAt string
	err := r.Scan(&m.ID, &m.LeadID, &m.Subject, &m.Body, &m.Channel, &m.Confidence,
		&m.Status, &m.EvidenceIDs, &m.TemplateID, &createdAt, &updatedAt)
	if err != nil {
		return GeneratedMessage{}, err
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return GeneratedMessage{}, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return GeneratedMessage{}, fmt.Errorf("parsing updated_at for message %s: %w", m.ID, err)
	}
	return m, nil
}
