package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const classificationColumns = "id, lead_id, tier, confidence, explanation, evidence_ids, superseded, created_at"

// SaveClassification inserts a new classification result. Any earlier
// non-superseded result for the same lead is marked superseded in the same
// transaction, preserving the at-most-one-active invariant.
func (s *Store) SaveClassification(c ClassificationResult) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	evidence := c.EvidenceIDs
	if evidence == "" {
		evidence = "[]"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning classification transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE classification_results SET superseded = 1 WHERE lead_id = ? AND superseded = 0`,
		c.LeadID,
	); err != nil {
		return fmt.Errorf("superseding prior classifications: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO classification_results (id, lead_id, tier, confidence, explanation, evidence_ids, superseded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		c.ID, c.LeadID, c.Tier, c.Confidence, c.Explanation, evidence, createdAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting classification %s: %w", c.ID, err)
	}

	return tx.Commit()
}

// SaveTriageOutcome writes a run's classification, its generated message and
// the lead's promotion to triaged in one transaction, so a failure partway
// through leaves no partial outcome behind. The same supersede rule as
// SaveClassification applies.
func (s *Store) SaveTriageOutcome(c ClassificationResult, m GeneratedMessage) error {
	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	evidence := c.EvidenceIDs
	if evidence == "" {
		evidence = "[]"
	}
	msgEvidence := m.EvidenceIDs
	if msgEvidence == "" {
		msgEvidence = "[]"
	}
	msgStatus := m.Status
	if msgStatus == "" {
		msgStatus = MessageStatusGenerated
	}
	msgChannel := m.Channel
	if msgChannel == "" {
		msgChannel = "email"
	}
	nowStr := now.Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning outcome transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE classification_results SET superseded = 1 WHERE lead_id = ? AND superseded = 0`,
		c.LeadID,
	); err != nil {
		return fmt.Errorf("superseding prior classifications: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO classification_results (id, lead_id, tier, confidence, explanation, evidence_ids, superseded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		c.ID, c.LeadID, c.Tier, c.Confidence, c.Explanation, evidence, createdAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting classification %s: %w", c.ID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, lead_id, subject, body, channel, confidence, status, evidence_ids, template_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LeadID, m.Subject, m.Body, msgChannel, m.Confidence, msgStatus, msgEvidence, m.TemplateID, nowStr, nowStr,
	); err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}

	res, err := tx.Exec(`
		UPDATE leads SET tier = ?, tier_confidence = ?, status = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		c.Tier, c.Confidence, LeadStatusTriaged, nowStr, c.LeadID,
	)
	if err != nil {
		return fmt.Errorf("updating lead %s: %w", c.LeadID, err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("updating lead %s: %w", c.LeadID, err)
	}

	return tx.Commit()
}

// ActiveClassification returns the non-superseded classification for the
// lead, or ErrNotFound. The orchestrator uses this for its idempotency check.
func (s *Store) ActiveClassification(leadID string) (ClassificationResult, error) {
	row := s.db.QueryRow(`
		SELECT `+classificationColumns+`
		FROM classification_results
		WHERE lead_id = ? AND superseded = 0`, leadID)
	c, err := scanClassification(row)
	if err == sql.ErrNoRows {
		return ClassificationResult{}, ErrNotFound
	}
	return c, err
}

// ListClassifications returns all classification results for a lead,
// newest-first, superseded included (audit history).
func (s *Store) ListClassifications(leadID string) ([]ClassificationResult, error) {
	rows, err := s.db.Query(`
		SELECT `+classificationColumns+`
		FROM classification_results
		WHERE lead_id = ? ORDER BY created_at DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ClassificationResult
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func scanClassification(r rowScanner) (ClassificationResult, error) {
	var c ClassificationResult
	var superseded int
	var createdAt string
	err := r.Scan(&c.ID, &c.LeadID, &c.Tier, &c.Confidence, &c.Explanation, &c.EvidenceIDs, &superseded, &createdAt)
	if err != nil {
		return ClassificationResult{}, err
	}
	c.Superseded = superseded != 0
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ClassificationResult{}, fmt.Errorf("parsing created_at for classification %s: %w", c.ID, err)
	}
	return c, nil
}
