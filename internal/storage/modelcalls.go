package storage

import (
	"fmt"
	"time"
)

// AppendModelCall writes one audit row. Rows are append-only: there is no
// update or delete path for model calls.
func (s *Store) AppendModelCall(c ModelCall) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	success := 0
	if c.Success {
		success = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO model_calls (id, operation, latency_ms, tokens, cost_usd, confidence, success, input_digest, output_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Operation, c.LatencyMS, c.Tokens, c.CostUSD, c.Confidence, success, c.InputDigest, c.OutputDigest,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// ListModelCalls returns audit rows newest-first. operation narrows to one
// operation tag when non-empty.
func (s *Store) ListModelCalls(operation string, limit int) ([]ModelCall, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, operation, latency_ms, tokens, cost_usd, confidence, success, input_digest, output_digest, created_at
		FROM model_calls`
	args := []any{}
	if operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []ModelCall
	for rows.Next() {
		var c ModelCall
		var success int
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Operation, &c.LatencyMS, &c.Tokens, &c.CostUSD,
			&c.Confidence, &success, &c.InputDigest, &c.OutputDigest, &createdAt); err != nil {
			return nil, err
		}
		c.Success = success != 0
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for model call %s: %w", c.ID, err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// CountModelCalls returns the number of audit rows for one operation tag.
func (s *Store) CountModelCalls(operation string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM model_calls WHERE operation = ?`, operation).Scan(&count)
	return count, err
}
