package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// AddMemory inserts m and returns its id. Callers may set m.ID ahead of time
// (store.NewID) so the apply phase can reference it before the insert
// returns, matching vybe's pattern of caller-generated UUIDs; an empty m.ID
// is filled with a freshly generated one.
func AddMemory(db *sql.DB, m *models.Memory) (string, error) {
	if m.ID == "" {
		m.ID = NewID()
	}
	categoriesJSON, err := json.Marshal(nonNilStrings(m.Categories))
	if err != nil {
		return "", fmt.Errorf("marshal categories: %w", err)
	}
	metadataJSON, err := json.Marshal(nonNilMap(m.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	err = RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO memories (
				id, owner, agent, run, app, content, tier, strength,
				trace_fast, trace_mid, trace_slow, access_count, last_accessed,
				namespace, confidentiality_scope, memory_type, immutable,
				expiration_date, source_event_id, source_app, categories,
				metadata, tombstoned, scene_id, echo_depth, last_reecho_access_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP,
				?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ID, m.Owner, m.Agent, m.Run, m.App, m.Content, string(m.Tier), m.Strength,
			m.TraceFast, m.TraceMid, m.TraceSlow, m.AccessCount,
			namespaceOrDefault(m.Namespace), string(m.ConfidentialityScope), string(m.MemoryType), m.Immutable,
			m.ExpirationDate, m.SourceEventID, m.SourceApp, string(categoriesJSON),
			string(metadataJSON), m.Tombstoned, m.SceneID, m.EchoDepth, m.LastReechoAccessCount,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to add memory: %w", err)
	}
	return m.ID, nil
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return models.DefaultNamespace
	}
	return ns
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

const memorySelectColumns = `
	id, owner, agent, run, app, content, tier, strength,
	trace_fast, trace_mid, trace_slow, access_count, last_accessed,
	created_at, updated_at, namespace, confidentiality_scope, memory_type,
	immutable, expiration_date, source_event_id, source_app, categories,
	metadata, tombstoned, scene_id, echo_depth, last_reecho_access_count
`

func scanMemoryRow(row interface{ Scan(...any) error }) (*models.Memory, error) {
	var m models.Memory
	var (
		expirationDate sql.NullTime
		categoriesJSON string
		metadataJSON   string
	)
	err := row.Scan(
		&m.ID, &m.Owner, &m.Agent, &m.Run, &m.App, &m.Content, &m.Tier, &m.Strength,
		&m.TraceFast, &m.TraceMid, &m.TraceSlow, &m.AccessCount, &m.LastAccessed,
		&m.CreatedAt, &m.UpdatedAt, &m.Namespace, &m.ConfidentialityScope, &m.MemoryType,
		&m.Immutable, &expirationDate, &m.SourceEventID, &m.SourceApp, &categoriesJSON,
		&metadataJSON, &m.Tombstoned, &m.SceneID, &m.EchoDepth, &m.LastReechoAccessCount,
	)
	if err != nil {
		return nil, err
	}
	if expirationDate.Valid {
		m.ExpirationDate = &expirationDate.Time
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &m.Categories); err != nil {
		return nil, &models.CorruptionError{Entity: "memory.categories", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
		return nil, &models.CorruptionError{Entity: "memory.metadata", Detail: err.Error()}
	}
	m.EffectiveStrength = m.Strength
	return &m, nil
}

// GetMemory retrieves a single memory by id. Returns (nil, nil) if absent.
func GetMemory(db *sql.DB, id string) (*models.Memory, error) {
	var mem *models.Memory
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+memorySelectColumns+" FROM memories WHERE id = ?", id)
		m, err := scanMemoryRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			mem = nil
			return nil
		}
		if err != nil {
			return err
		}
		mem = m
		return nil
	})
	return mem, err
}

// GetMemoriesBulk retrieves many memories by id in one query.
func GetMemoriesBulk(db *sql.DB, ids []string) (map[string]*models.Memory, error) {
	out := map[string]*models.Memory{}
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), "SELECT "+memorySelectColumns+" FROM memories WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			m, err := scanMemoryRow(rows)
			if err != nil {
				return err
			}
			out[m.ID] = m
		}
		return rows.Err()
	})
	return out, err
}

// MemoryFilters narrows GetAllMemories, mirroring spec.md §4.1's
// get_all_memories(filters…) contract.
type MemoryFilters struct {
	Owner             string
	Agent             string
	Run               string
	App               string
	Tier              models.Tier
	Namespace         string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
	IncludeTombstoned bool
	Limit             int
}

// GetAllMemories lists memories matching f, newest first.
func GetAllMemories(db *sql.DB, f MemoryFilters) ([]*models.Memory, error) {
	query := "SELECT " + memorySelectColumns + " FROM memories WHERE owner = ?"
	args := []any{f.Owner}
	if f.Agent != "" {
		query += " AND agent = ?"
		args = append(args, f.Agent)
	}
	if f.Run != "" {
		query += " AND run = ?"
		args = append(args, f.Run)
	}
	if f.App != "" {
		query += " AND app = ?"
		args = append(args, f.App)
	}
	if f.Tier != "" {
		query += " AND tier = ?"
		args = append(args, string(f.Tier))
	}
	if f.Namespace != "" {
		query += " AND namespace = ?"
		args = append(args, f.Namespace)
	}
	if f.CreatedAfter != nil {
		query += " AND created_at >= ?"
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		query += " AND created_at <= ?"
		args = append(args, f.CreatedBefore)
	}
	if !f.IncludeTombstoned {
		query += " AND tombstoned = 0"
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var out []*models.Memory
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			m, err := scanMemoryRow(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// MemoryPatch describes a partial update to a memory row; nil fields are
// left unchanged, matching spec.md §4.1's update_memory(id, patch) contract.
type MemoryPatch struct {
	Content        *string
	Metadata       map[string]string
	Categories     []string
	Tier           *models.Tier
	Strength       *float64
	TraceFast      *float64
	TraceMid       *float64
	TraceSlow      *float64
	SceneID        *string
	EchoDepth      *string
	LastReechoAccessCount *int
}

// UpdateMemory applies patch to the memory identified by id. Reports whether
// a row existed and was updated.
func UpdateMemory(db *sql.DB, id string, patch MemoryPatch) (bool, error) {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if patch.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *patch.Content)
	}
	if patch.Metadata != nil {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata patch: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(b))
	}
	if patch.Categories != nil {
		b, err := json.Marshal(patch.Categories)
		if err != nil {
			return false, fmt.Errorf("marshal categories patch: %w", err)
		}
		sets = append(sets, "categories = ?")
		args = append(args, string(b))
	}
	if patch.Tier != nil {
		sets = append(sets, "tier = ?")
		args = append(args, string(*patch.Tier))
	}
	if patch.Strength != nil {
		sets = append(sets, "strength = ?")
		args = append(args, *patch.Strength)
	}
	if patch.TraceFast != nil {
		sets = append(sets, "trace_fast = ?")
		args = append(args, *patch.TraceFast)
	}
	if patch.TraceMid != nil {
		sets = append(sets, "trace_mid = ?")
		args = append(args, *patch.TraceMid)
	}
	if patch.TraceSlow != nil {
		sets = append(sets, "trace_slow = ?")
		args = append(args, *patch.TraceSlow)
	}
	if patch.SceneID != nil {
		sets = append(sets, "scene_id = ?")
		args = append(args, *patch.SceneID)
	}
	if patch.EchoDepth != nil {
		sets = append(sets, "echo_depth = ?")
		args = append(args, *patch.EchoDepth)
	}
	if patch.LastReechoAccessCount != nil {
		sets = append(sets, "last_reecho_access_count = ?")
		args = append(args, *patch.LastReechoAccessCount)
	}

	args = append(args, id)
	query := "UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	var affected int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update memory: %w", err)
	}
	return affected > 0, nil
}

// DeleteMemory removes a memory. When useTombstone is true it sets
// strength=0 and tombstoned=true instead of a hard delete (spec.md §4.1).
func DeleteMemory(db *sql.DB, id string, useTombstone bool) (bool, error) {
	var affected int64
	err := RetryWithBackoff(func() error {
		var res sql.Result
		var err error
		if useTombstone {
			res, err = db.ExecContext(context.Background(), `
				UPDATE memories SET strength = 0, tombstoned = 1, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, id)
		} else {
			res, err = db.ExecContext(context.Background(), `DELETE FROM memories WHERE id = ?`, id)
		}
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	return affected > 0, nil
}

// PurgeTombstoned hard-deletes tombstoned rows last updated before cutoff.
func PurgeTombstoned(db *sql.DB, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	var affected int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), `
			DELETE FROM memories WHERE id IN (
				SELECT id FROM memories WHERE tombstoned = 1 AND updated_at < ? LIMIT ?
			)
		`, cutoff, limit)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// IncrementAccess atomically bumps access_count and last_accessed for id.
func IncrementAccess(db *sql.DB, id string) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			UPDATE memories SET access_count = access_count + 1, last_accessed = CURRENT_TIMESTAMP
			WHERE id = ?
		`, id)
		return err
	})
}

// ListDistinctUsers returns every owner with at least one non-tombstoned
// memory, used by the sleep cycle to iterate "each user" (spec.md §4.12).
func ListDistinctUsers(db *sql.DB) ([]string, error) {
	return queryStringColumn(db, `SELECT DISTINCT owner FROM memories WHERE tombstoned = 0 ORDER BY owner`)
}

// FindDuplicateByContent returns the id of an active memory owned by user
// with exactly matching content, used by the staging pipeline's duplicate
// check (spec.md §4.10 step 3). Returns "" if none found.
func FindDuplicateByContent(db *sql.DB, owner, content string) (string, error) {
	var id string
	err := RetryWithBackoff(func() error {
		err := db.QueryRowContext(context.Background(), `
			SELECT id FROM memories WHERE owner = ? AND content = ? AND tombstoned = 0
			ORDER BY created_at DESC LIMIT 1
		`, owner, content).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			id = ""
			return nil
		}
		return err
	})
	return id, err
}

// FindByIdempotencyKey looks up a memory by its (source_event_id, namespace,
// source_app) idempotency key, per spec.md §3/§8 property 4.
func FindByIdempotencyKey(db *sql.DB, sourceEventID, namespace, sourceApp string) (*models.Memory, error) {
	if sourceEventID == "" {
		return nil, nil
	}
	var mem *models.Memory
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+memorySelectColumns+`
			FROM memories WHERE source_event_id = ? AND namespace = ? AND source_app = ?
		`, sourceEventID, namespace, sourceApp)
		m, err := scanMemoryRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			mem = nil
			return nil
		}
		if err != nil {
			return err
		}
		mem = m
		return nil
	})
	return mem, err
}
