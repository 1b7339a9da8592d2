package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertEventTx appends a durable event row inside an existing transaction.
func InsertEventTx(tx *sql.Tx, kind, user, agent, refID, message, metadataJSON string) (int64, error) {
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO events (kind, user, agent, ref_id, message, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, kind, user, agent, refID, message, metadataJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return res.LastInsertId()
}

// EventRow is a durable event-log entry.
type EventRow struct {
	ID        int64
	Kind      string
	User      string
	Agent     string
	RefID     string
	Message   string
	Metadata  string
	CreatedAt string
}

// ListEvents returns the most recent events for a user, optionally filtered by kind.
func ListEvents(db *sql.DB, user, kind string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, user, agent, ref_id, message, metadata, created_at
		FROM events WHERE user = ?`
	args := []any{user}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var out []EventRow
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			var r EventRow
			if err := rows.Scan(&r.ID, &r.Kind, &r.User, &r.Agent, &r.RefID, &r.Message, &r.Metadata, &r.CreatedAt); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// GetHistory returns the raw decay log for a memory, most recent first.
func GetHistory(db *sql.DB, memoryID string, limit int) ([]DecayLogRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []DecayLogRow
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, memory_id, prev_strength, new_strength, reason, created_at
			FROM decay_log WHERE memory_id = ? ORDER BY id DESC LIMIT ?
		`, memoryID, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			var r DecayLogRow
			if err := rows.Scan(&r.ID, &r.MemoryID, &r.PrevStrength, &r.NewStrength, &r.Reason, &r.CreatedAt); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// DecayLogRow is one recorded strength transition.
type DecayLogRow struct {
	ID           int64
	MemoryID     string
	PrevStrength float64
	NewStrength  float64
	Reason       string
	CreatedAt    string
}

// LogDecay records a strength transition for audit/history purposes.
func LogDecay(db *sql.DB, memoryID string, prev, next float64, reason string) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO decay_log (memory_id, prev_strength, new_strength, reason)
			VALUES (?, ?, ?, ?)
		`, memoryID, prev, next, reason)
		return err
	})
}
