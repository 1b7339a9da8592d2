package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// CreateCommitTx inserts a new proposal commit in the given status. Mirrors
// the propose_write step 5 of spec.md §4.10: a commit starts in PENDING
// unless conflicts/pii_risk force AUTO_STASHED.
func CreateCommitTx(tx *sql.Tx, c *models.ProposalCommit) (string, error) {
	if c.ID == "" {
		c.ID = NewID()
	}
	checksJSON, err := json.Marshal(c.Checks)
	if err != nil {
		return "", fmt.Errorf("marshal checks: %w", err)
	}
	provJSON, err := json.Marshal(c.Provenance)
	if err != nil {
		return "", fmt.Errorf("marshal provenance: %w", err)
	}

	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO proposal_commits (id, user, agent, scope, namespace, status, checks, preview, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.User, c.Agent, string(c.Scope), c.Namespace, string(c.Status), string(checksJSON), c.Preview, string(provJSON))
	if err != nil {
		return "", fmt.Errorf("failed to insert commit: %w", err)
	}

	for i, ch := range c.Changes {
		if err := insertChangeTx(tx, c.ID, i, ch); err != nil {
			return "", err
		}
	}
	return c.ID, nil
}

func insertChangeTx(tx *sql.Tx, commitID string, seq int, ch models.ProposalChange) error {
	patch := ch.Patch
	if patch == nil {
		patch = json.RawMessage("{}")
	}
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO proposal_changes (commit_id, seq, op, target, patch)
		VALUES (?, ?, ?, ?, ?)
	`, commitID, seq, string(ch.Op), ch.Target, string(patch))
	if err != nil {
		return fmt.Errorf("failed to insert change %d: %w", seq, err)
	}
	return nil
}

// CASCommitStatus performs the central state-machine transition from
// spec.md §4.10: an atomic UPDATE ... WHERE status IN (allowedFrom). Zero
// rows affected means another actor already moved the row; it then re-reads
// the row and returns a CASContentionError naming the observed status (or a
// NotFoundError when the row is gone).
func CASCommitStatus(db *sql.DB, id string, allowedFrom []models.CommitStatus, to models.CommitStatus) error {
	placeholders := placeholdersOf(allowedFrom)
	args := []any{string(to), id}
	for _, s := range allowedFrom {
		args = append(args, string(s))
	}

	var affected int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), `
			UPDATE proposal_commits SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed CAS commit status: %w", err)
	}
	if affected == 0 {
		current, readErr := GetCommit(db, id)
		if readErr != nil {
			return readErr
		}
		if current == nil {
			return &models.NotFoundError{Entity: "proposal_commit", ID: id}
		}
		return &CASContentionError{
			Entity:        "proposal_commit",
			ID:            id,
			CurrentStatus: string(current.Status),
			Expected:      statusStrings(allowedFrom),
		}
	}
	return nil
}

func placeholdersOf(s []models.CommitStatus) string {
	out := ""
	for i := range s {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}

func statusStrings(s []models.CommitStatus) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// UpdateCommitChecksTx overwrites the checks JSON on a commit row, used when
// apply fails and apply_error/rollback_deleted must be recorded (spec.md
// §4.10 step 3 of the approve flow).
func UpdateCommitChecksTx(tx *sql.Tx, id string, checks models.CommitChecks) error {
	checksJSON, err := json.Marshal(checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE proposal_commits SET checks = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(checksJSON), id)
	return err
}

// GetCommit retrieves a proposal commit with its ordered changes.
func GetCommit(db *sql.DB, id string) (*models.ProposalCommit, error) {
	var c *models.ProposalCommit
	err := RetryWithBackoff(func() error {
		var checksJSON, provJSON string
		c = &models.ProposalCommit{}
		err := db.QueryRowContext(context.Background(), `
			SELECT id, user, agent, scope, namespace, status, checks, preview, provenance, created_at, updated_at
			FROM proposal_commits WHERE id = ?
		`, id).Scan(&c.ID, &c.User, &c.Agent, &c.Scope, &c.Namespace, &c.Status, &checksJSON, &c.Preview, &provJSON, &c.CreatedAt, &c.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			c = nil
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(checksJSON), &c.Checks); err != nil {
			return &models.CorruptionError{Entity: "proposal_commit.checks", Detail: err.Error()}
		}
		if err := json.Unmarshal([]byte(provJSON), &c.Provenance); err != nil {
			return &models.CorruptionError{Entity: "proposal_commit.provenance", Detail: err.Error()}
		}

		rows, err := db.QueryContext(context.Background(), `
			SELECT op, target, patch FROM proposal_changes WHERE commit_id = ? ORDER BY seq ASC
		`, id)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ch models.ProposalChange
			var patch string
			if err := rows.Scan(&ch.Op, &ch.Target, &patch); err != nil {
				return err
			}
			ch.Patch = json.RawMessage(patch)
			c.Changes = append(c.Changes, ch)
		}
		return rows.Err()
	})
	return c, err
}

// ListPendingCommits lists commits for user optionally filtered by status.
func ListPendingCommits(db *sql.DB, user, status string, limit int) ([]*models.ProposalCommit, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id FROM proposal_commits WHERE user = ?`
	args := []any{user}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var ids []string
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		ids = nil
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.ProposalCommit, 0, len(ids))
	for _, id := range ids {
		c, err := GetCommit(db, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// CountCommitsSince counts proposal commits for (user, agent) created at or
// after since, used by the policy gateway to enforce hourly/daily write
// quotas (spec.md §4.9). agent may be empty to count across every agent.
func CountCommitsSince(db *sql.DB, user, agent string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM proposal_commits WHERE user = ? AND created_at >= ?`
	args := []any{user, since}
	if agent != "" {
		query += ` AND agent = ?`
		args = append(args, agent)
	}
	var n int
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), query, args...).Scan(&n)
	})
	return n, err
}

// CreateConflictStashTx records an unresolved invariant disagreement.
func CreateConflictStashTx(tx *sql.Tx, cs *models.ConflictStash) (string, error) {
	if cs.ID == "" {
		cs.ID = NewID()
	}
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO conflict_stash (id, user, conflict_key, existing_value, proposed_value, resolution, source_commit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cs.ID, cs.User, cs.ConflictKey, cs.ExistingValue, cs.ProposedValue, string(models.ResolutionUnresolved), cs.SourceCommitID)
	if err != nil {
		return "", fmt.Errorf("failed to insert conflict stash: %w", err)
	}
	return cs.ID, nil
}

// GetConflictStash retrieves one conflict-stash row by id.
func GetConflictStash(db *sql.DB, id string) (*models.ConflictStash, error) {
	var cs *models.ConflictStash
	err := RetryWithBackoff(func() error {
		cs = &models.ConflictStash{}
		var resolvedAt sql.NullTime
		err := db.QueryRowContext(context.Background(), `
			SELECT id, user, conflict_key, existing_value, proposed_value, resolution, source_commit_id, created_at, resolved_at
			FROM conflict_stash WHERE id = ?
		`, id).Scan(&cs.ID, &cs.User, &cs.ConflictKey, &cs.ExistingValue, &cs.ProposedValue, &cs.Resolution, &cs.SourceCommitID, &cs.CreatedAt, &resolvedAt)
		if errors.Is(err, sql.ErrNoRows) {
			cs = nil
			return nil
		}
		if resolvedAt.Valid {
			cs.ResolvedAt = &resolvedAt.Time
		}
		return err
	})
	return cs, err
}

// ListConflictStash lists a user's conflict-stash rows in a given
// resolution state, most recent first, used by the sleep cycle's daily
// digest ("top conflicts (unresolved)", spec.md §4.12).
func ListConflictStash(db *sql.DB, user string, resolution models.ConflictResolution, limit int) ([]*models.ConflictStash, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.ConflictStash
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, user, conflict_key, existing_value, proposed_value, resolution, source_commit_id, created_at, resolved_at
			FROM conflict_stash WHERE user = ? AND resolution = ? ORDER BY created_at DESC LIMIT ?
		`, user, string(resolution), limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			cs := &models.ConflictStash{}
			var resolvedAt sql.NullTime
			if err := rows.Scan(&cs.ID, &cs.User, &cs.ConflictKey, &cs.ExistingValue, &cs.ProposedValue, &cs.Resolution, &cs.SourceCommitID, &cs.CreatedAt, &resolvedAt); err != nil {
				return err
			}
			if resolvedAt.Valid {
				cs.ResolvedAt = &resolvedAt.Time
			}
			out = append(out, cs)
		}
		return rows.Err()
	})
	return out, err
}

// ResolveConflictStash CAS-transitions an UNRESOLVED stash row to resolution.
func ResolveConflictStash(db *sql.DB, id string, resolution models.ConflictResolution) error {
	var affected int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), `
			UPDATE conflict_stash SET resolution = ?, resolved_at = CURRENT_TIMESTAMP
			WHERE id = ? AND resolution = ?
		`, string(resolution), id, string(models.ResolutionUnresolved))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to resolve conflict stash: %w", err)
	}
	if affected == 0 {
		existing, readErr := GetConflictStash(db, id)
		if readErr != nil {
			return readErr
		}
		if existing == nil {
			return &models.NotFoundError{Entity: "conflict_stash", ID: id}
		}
		return &CASContentionError{Entity: "conflict_stash", ID: id, CurrentStatus: string(existing.Resolution), Expected: []string{string(models.ResolutionUnresolved)}}
	}
	return nil
}

// UpsertInvariantTx sets a (user, key) identity invariant, used both by the
// propose flow's invariant extraction and by ACCEPT_PROPOSED conflict
// resolution (spec.md §4.10 "Conflict resolution").
func UpsertInvariantTx(tx *sql.Tx, user, key, value string, confidence float64) error {
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO invariants (user, key, value, confidence, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user, key) DO UPDATE SET value = excluded.value, confidence = excluded.confidence, updated_at = CURRENT_TIMESTAMP
	`, user, key, value, confidence)
	if err != nil {
		return fmt.Errorf("failed to upsert invariant: %w", err)
	}
	return nil
}

// GetInvariant reads a single (user, key) invariant. Returns (nil, nil) if absent.
func GetInvariant(q Querier, user, key string) (*models.Invariant, error) {
	inv := &models.Invariant{}
	err := q.QueryRow(`SELECT user, key, value, confidence, updated_at FROM invariants WHERE user = ? AND key = ?`, user, key).
		Scan(&inv.User, &inv.Key, &inv.Value, &inv.Confidence, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvariants returns every identity invariant recorded for user.
func ListInvariants(db *sql.DB, user string) ([]*models.Invariant, error) {
	var out []*models.Invariant
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `SELECT user, key, value, confidence, updated_at FROM invariants WHERE user = ?`, user)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			inv := &models.Invariant{}
			if err := rows.Scan(&inv.User, &inv.Key, &inv.Value, &inv.Confidence, &inv.UpdatedAt); err != nil {
				return err
			}
			out = append(out, inv)
		}
		return rows.Err()
	})
	return out, err
}
