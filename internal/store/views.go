package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engram-kernel/engram/internal/models"
)

// CreateViewTx inserts a newly ingested perception. scene_id is empty until
// the episodic grouper assigns it to a scene.
func CreateViewTx(tx *sql.Tx, v *models.View) (string, error) {
	if v.ID == "" {
		v.ID = NewID()
	}
	charsJSON, err := json.Marshal(v.Characters)
	if err != nil {
		return "", fmt.Errorf("marshal characters: %w", err)
	}
	signalsJSON, err := json.Marshal(nonNilMap(v.Signals))
	if err != nil {
		return "", fmt.Errorf("marshal signals: %w", err)
	}
	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO views (id, user, agent, timestamp, place, topic_label, topic_ref, characters, raw_text, signals, scene_id, namespace, memory_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.User, v.Agent, v.Timestamp, v.Place, v.TopicLabel, v.TopicRef, string(charsJSON), v.RawText,
		string(signalsJSON), v.SceneID, namespaceOrDefault(v.Namespace), v.MemoryID)
	if err != nil {
		return "", fmt.Errorf("failed to insert view: %w", err)
	}
	return v.ID, nil
}

const viewSelectColumns = `id, user, agent, timestamp, place, topic_label, topic_ref, characters, raw_text, signals, scene_id, namespace, memory_id`

func scanViewRow(row interface{ Scan(...any) error }) (*models.View, error) {
	var v models.View
	var charsJSON, signalsJSON string
	err := row.Scan(&v.ID, &v.User, &v.Agent, &v.Timestamp, &v.Place, &v.TopicLabel, &v.TopicRef,
		&charsJSON, &v.RawText, &signalsJSON, &v.SceneID, &v.Namespace, &v.MemoryID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(charsJSON), &v.Characters); err != nil {
		return nil, &models.CorruptionError{Entity: "view.characters", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(signalsJSON), &v.Signals); err != nil {
		return nil, &models.CorruptionError{Entity: "view.signals", Detail: err.Error()}
	}
	return &v, nil
}

// GetView retrieves a view by id. Returns (nil, nil) if absent.
func GetView(db *sql.DB, id string) (*models.View, error) {
	var v *models.View
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+viewSelectColumns+" FROM views WHERE id = ?", id)
		r, err := scanViewRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			v = nil
			return nil
		}
		if err != nil {
			return err
		}
		v = r
		return nil
	})
	return v, err
}

// ListUnscenedViews returns a user's views not yet assigned to a scene,
// oldest first, used by the episodic grouper and the sleep-cycle
// re-ingestion pass.
func ListUnscenedViews(db *sql.DB, user string, limit int) ([]*models.View, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.View
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT `+viewSelectColumns+` FROM views WHERE user = ? AND scene_id = '' ORDER BY timestamp ASC LIMIT ?
		`, user, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			v, err := scanViewRow(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

// AssignViewSceneTx binds a view to a scene once the grouper accepts it.
func AssignViewSceneTx(tx *sql.Tx, viewID, sceneID string) error {
	_, err := tx.ExecContext(context.Background(), `UPDATE views SET scene_id = ? WHERE id = ?`, sceneID, viewID)
	return err
}

// UpsertEntityEdgeTx records or reinforces a directed knowledge-graph edge.
func UpsertEntityEdgeTx(tx *sql.Tx, e models.EntityEdge) error {
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO entity_edges (source_id, target_id, type, weight)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET weight = entity_edges.weight + excluded.weight
	`, e.SourceID, e.TargetID, e.Type, e.Weight)
	return err
}

// ListEntityEdges returns every outgoing edge from sourceID.
func ListEntityEdges(db *sql.DB, sourceID string) ([]models.EntityEdge, error) {
	var out []models.EntityEdge
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT source_id, target_id, type, weight FROM entity_edges WHERE source_id = ? ORDER BY weight DESC
		`, sourceID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			var e models.EntityEdge
			if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Type, &e.Weight); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}
