package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engram-kernel/engram/internal/models"
)

// CreateHandoffSession opens a new continuity bundle for (user, agent, repo).
func CreateHandoffSession(db *sql.DB, s *models.HandoffSession) (string, error) {
	if s.ID == "" {
		s.ID = NewID()
	}
	decisionsJSON, err := json.Marshal(nonNilStrings(s.Decisions))
	if err != nil {
		return "", fmt.Errorf("marshal decisions: %w", err)
	}
	filesJSON, err := json.Marshal(nonNilStrings(s.FilesTouched))
	if err != nil {
		return "", fmt.Errorf("marshal files_touched: %w", err)
	}
	todosJSON, err := json.Marshal(nonNilStrings(s.Todos))
	if err != nil {
		return "", fmt.Errorf("marshal todos: %w", err)
	}
	metadataJSON, err := json.Marshal(nonNilMap(s.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	status := s.Status
	if status == "" {
		status = models.HandoffActive
	}
	err = RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO handoff_sessions (id, user, agent, repo, namespace, status, task_summary, decisions, files_touched, todos, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.User, s.Agent, s.Repo, namespaceOrDefault(s.Namespace), string(status), s.TaskSummary,
			string(decisionsJSON), string(filesJSON), string(todosJSON), string(metadataJSON))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create handoff session: %w", err)
	}
	return s.ID, nil
}

const handoffSessionSelectColumns = `
	id, user, agent, repo, namespace, status, task_summary, decisions, files_touched, todos, metadata, created_at, updated_at
`

func scanHandoffSessionRow(row interface{ Scan(...any) error }) (*models.HandoffSession, error) {
	var s models.HandoffSession
	var decisionsJSON, filesJSON, todosJSON, metadataJSON string
	err := row.Scan(&s.ID, &s.User, &s.Agent, &s.Repo, &s.Namespace, &s.Status, &s.TaskSummary,
		&decisionsJSON, &filesJSON, &todosJSON, &metadataJSON, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(decisionsJSON), &s.Decisions); err != nil {
		return nil, &models.CorruptionError{Entity: "handoff_session.decisions", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(filesJSON), &s.FilesTouched); err != nil {
		return nil, &models.CorruptionError{Entity: "handoff_session.files_touched", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(todosJSON), &s.Todos); err != nil {
		return nil, &models.CorruptionError{Entity: "handoff_session.todos", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &s.Metadata); err != nil {
		return nil, &models.CorruptionError{Entity: "handoff_session.metadata", Detail: err.Error()}
	}
	return &s, nil
}

// GetHandoffSession retrieves a handoff session by id.
func GetHandoffSession(db *sql.DB, id string) (*models.HandoffSession, error) {
	var s *models.HandoffSession
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+handoffSessionSelectColumns+" FROM handoff_sessions WHERE id = ?", id)
		v, err := scanHandoffSessionRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			s = nil
			return nil
		}
		if err != nil {
			return err
		}
		s = v
		return nil
	})
	return s, err
}

// GetLastHandoffSession returns the most recently updated session for
// (user, agent, namespace, repo), used by get_last_session/auto_resume_context.
func GetLastHandoffSession(db *sql.DB, user, agent, namespace, repo string) (*models.HandoffSession, error) {
	var s *models.HandoffSession
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+handoffSessionSelectColumns+` FROM handoff_sessions
			WHERE user = ? AND agent = ? AND namespace = ? AND repo = ?
			ORDER BY updated_at DESC LIMIT 1
		`, user, agent, namespaceOrDefault(namespace), repo)
		v, err := scanHandoffSessionRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			s = nil
			return nil
		}
		if err != nil {
			return err
		}
		s = v
		return nil
	})
	return s, err
}

// ListHandoffSessions lists a user's sessions, most recently updated first.
func ListHandoffSessions(db *sql.DB, user string, limit int) ([]*models.HandoffSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.HandoffSession
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT `+handoffSessionSelectColumns+` FROM handoff_sessions WHERE user = ? ORDER BY updated_at DESC LIMIT ?
		`, user, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			s, err := scanHandoffSessionRow(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateHandoffSessionTx overwrites the mutable fields of a handoff session,
// used by save_session_digest/auto_checkpoint/finalize_lane.
func UpdateHandoffSessionTx(tx *sql.Tx, id, status, taskSummary string, decisions, filesTouched, todos []string, metadata map[string]string) error {
	decisionsJSON, err := json.Marshal(nonNilStrings(decisions))
	if err != nil {
		return err
	}
	filesJSON, err := json.Marshal(nonNilStrings(filesTouched))
	if err != nil {
		return err
	}
	todosJSON, err := json.Marshal(nonNilStrings(todos))
	if err != nil {
		return err
	}
	metadataJSON, err := json.Marshal(nonNilMap(metadata))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE handoff_sessions SET status = ?, task_summary = ?, decisions = ?, files_touched = ?, todos = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, taskSummary, string(decisionsJSON), string(filesJSON), string(todosJSON), string(metadataJSON), id)
	return err
}

// OpenLaneTx begins a new handoff exchange between two agents.
func OpenLaneTx(tx *sql.Tx, l *models.Lane) (string, error) {
	if l.ID == "" {
		l.ID = NewID()
	}
	status := l.Status
	if status == "" {
		status = models.LaneOpen
	}
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO handoff_lanes (id, session_id, from_agent, to_agent, status, context)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.SessionID, l.FromAgent, l.ToAgent, string(status), l.Context)
	if err != nil {
		return "", fmt.Errorf("failed to open lane: %w", err)
	}
	return l.ID, nil
}

// CloseLaneTx closes an open lane; used by finalize_lane.
func CloseLaneTx(tx *sql.Tx, laneID string) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE handoff_lanes SET status = ?, closed_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?
	`, string(models.LaneClosed), laneID, string(models.LaneOpen))
	return err
}

// ListLanes returns every lane recorded for a handoff session, oldest first.
func ListLanes(db *sql.DB, sessionID string) ([]*models.Lane, error) {
	var out []*models.Lane
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, session_id, from_agent, to_agent, status, context, created_at, closed_at
			FROM handoff_lanes WHERE session_id = ? ORDER BY created_at ASC
		`, sessionID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			l := &models.Lane{}
			var closedAt sql.NullTime
			if err := rows.Scan(&l.ID, &l.SessionID, &l.FromAgent, &l.ToAgent, &l.Status, &l.Context, &l.CreatedAt, &closedAt); err != nil {
				return err
			}
			if closedAt.Valid {
				l.ClosedAt = &closedAt.Time
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	return out, err
}

// RecordCheckpointTx appends an immutable snapshot within a lane, used by
// auto_checkpoint.
func RecordCheckpointTx(tx *sql.Tx, c *models.Checkpoint) (string, error) {
	if c.ID == "" {
		c.ID = NewID()
	}
	snapshot := c.Snapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO handoff_checkpoints (id, session_id, lane_id, agent, snapshot)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, c.LaneID, c.Agent, string(snapshot))
	if err != nil {
		return "", fmt.Errorf("failed to record checkpoint: %w", err)
	}
	return c.ID, nil
}

// GetLatestCheckpoint returns the most recent checkpoint in a session,
// optionally scoped to a single lane, used by auto_resume_context.
func GetLatestCheckpoint(db *sql.DB, sessionID, laneID string) (*models.Checkpoint, error) {
	query := `SELECT id, session_id, lane_id, agent, snapshot, created_at FROM handoff_checkpoints WHERE session_id = ?`
	args := []any{sessionID}
	if laneID != "" {
		query += ` AND lane_id = ?`
		args = append(args, laneID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var cp *models.Checkpoint
	err := RetryWithBackoff(func() error {
		var snapshot string
		v := &models.Checkpoint{}
		err := db.QueryRowContext(context.Background(), query, args...).Scan(&v.ID, &v.SessionID, &v.LaneID, &v.Agent, &snapshot, &v.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			cp = nil
			return nil
		}
		if err != nil {
			return err
		}
		v.Snapshot = json.RawMessage(snapshot)
		cp = v
		return nil
	})
	return cp, err
}
