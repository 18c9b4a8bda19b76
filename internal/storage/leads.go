package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const leadColumns = "id, name, email, company, message, source, tier, tier_confidence, status, last_error, created_at, updated_at"

// SaveLead inserts a new lead in status "new".
func (s *Store) SaveLead(l Lead) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !l.CreatedAt.IsZero() {
		createdAt = l.CreatedAt.UTC().Format(time.RFC3339)
	}
	status := l.Status
	if status == "" {
		status = LeadStatusNew
	}
	_, err := s.db.Exec(`
		INSERT INTO leads (id, name, email, company, message, source, tier, tier_confidence, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Email, l.Company, l.Message, l.Source, l.Tier, l.TierConfidence, status, l.LastError, createdAt, now,
	)
	return err
}

// GetLead returns the lead with the given id.
func (s *Store) GetLead(id string) (Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// LeadFilter narrows ListLeads. Zero values mean "no filter".
type LeadFilter struct {
	Tier   string
	Status string
	Limit  int
	Offset int
}

// ListLeads returns leads newest-first, optionally filtered by tier and status.
func (s *Store) ListLeads(f LeadFilter) ([]Lead, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := sq.Select(leadColumns).
		From("leads").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(f.Offset))
	if f.Tier != "" {
		q = q.Where(sq.Eq{"tier": f.Tier})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building lead query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// AttachClassification records the pipeline outcome on the lead. This is the
// single mutation the pipeline performs on a lead.
func (s *Store) AttachClassification(leadID, tier string, confidence float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE leads SET tier = ?, tier_confidence = ?, status = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		tier, confidence, LeadStatusTriaged, now, leadID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkLeadFailed puts the lead in its terminal error state. The lead remains
// queryable with the reason attached; it is never deleted.
func (s *Store) MarkLeadFailed(leadID, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE leads SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		LeadStatusFailed, reason, now, leadID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(r rowScanner) (Lead, error) {
	var l Lead
	var createdAt, updatedAt string
	err := r.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Message, &l.Source,
		&l.Tier, &l.TierConfidence, &l.Status, &l.LastError, &createdAt, &updatedAt)
	if err != nil {
		return Lead{}, err
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Lead{}, fmt.Errorf("parsing created_at for lead %s: %w", l.ID, err)
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Lead{}, fmt.Errorf("parsing updated_at for lead %s: %w", l.ID, err)
	}
	return l, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
