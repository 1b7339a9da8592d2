package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// CreateSceneTx inserts a new episodic scene and returns its id.
func CreateSceneTx(tx *sql.Tx, s *models.Scene) (string, error) {
	if s.ID == "" {
		s.ID = NewID()
	}
	participantsJSON, err := json.Marshal(nonNilStrings(s.Participants))
	if err != nil {
		return "", fmt.Errorf("marshal participants: %w", err)
	}
	memoryIDsJSON, err := json.Marshal(nonNilStrings(s.MemoryIDs))
	if err != nil {
		return "", fmt.Errorf("marshal memory_ids: %w", err)
	}
	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO scenes (
			id, user, title, topic, summary, start_time, end_time, location,
			participants, memory_ids, embedding, scene_strength, layer, namespace, confidentiality_scope
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.User, s.Title, s.Topic, s.Summary, s.StartTime, s.EndTime, s.Location,
		string(participantsJSON), string(memoryIDsJSON), encodeVector(s.Embedding), s.SceneStrength,
		string(s.Layer), namespaceOrDefault(s.Namespace), string(s.ConfidentialityScope))
	if err != nil {
		return "", fmt.Errorf("failed to insert scene: %w", err)
	}
	return s.ID, nil
}

const sceneSelectColumns = `
	id, user, title, topic, summary, start_time, end_time, location,
	participants, memory_ids, embedding, scene_strength, layer, namespace,
	confidentiality_scope, created_at, updated_at
`

func scanSceneRow(row interface{ Scan(...any) error }) (*models.Scene, error) {
	var s models.Scene
	var participantsJSON, memoryIDsJSON string
	var embeddingBlob []byte
	err := row.Scan(&s.ID, &s.User, &s.Title, &s.Topic, &s.Summary, &s.StartTime, &s.EndTime, &s.Location,
		&participantsJSON, &memoryIDsJSON, &embeddingBlob, &s.SceneStrength, &s.Layer, &s.Namespace,
		&s.ConfidentialityScope, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participantsJSON), &s.Participants); err != nil {
		return nil, &models.CorruptionError{Entity: "scene.participants", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(memoryIDsJSON), &s.MemoryIDs); err != nil {
		return nil, &models.CorruptionError{Entity: "scene.memory_ids", Detail: err.Error()}
	}
	s.Embedding = decodeVector(embeddingBlob)
	return &s, nil
}

// GetScene retrieves a scene by id. Returns (nil, nil) if absent.
func GetScene(db *sql.DB, id string) (*models.Scene, error) {
	var s *models.Scene
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+sceneSelectColumns+" FROM scenes WHERE id = ?", id)
		v, err := scanSceneRow(row)
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

// ListRecentScenes returns a user's most recently started scenes, most
// recent first, used for both scene search fallback and digest building.
func ListRecentScenes(db *sql.DB, user string, limit int) ([]*models.Scene, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*models.Scene
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), "SELECT "+sceneSelectColumns+" FROM scenes WHERE user = ? ORDER BY start_time DESC LIMIT ?", user, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			s, err := scanSceneRow(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// ListScenesInRange returns a user's scenes whose start_time falls within
// [start, end), ranked by scene_strength descending and capped at limit,
// used by the sleep cycle's daily digest scene highlights (spec.md §4.12).
func ListScenesInRange(db *sql.DB, user string, start, end time.Time, limit int) ([]*models.Scene, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []*models.Scene
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT `+sceneSelectColumns+` FROM scenes
			WHERE user = ? AND start_time >= ? AND start_time < ?
			ORDER BY scene_strength DESC LIMIT ?
		`, user, start, end, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			s, err := scanSceneRow(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// AppendSceneMemoryTx appends a memory id to an existing scene's member
// list, used when a new view joins an open scene. It leaves scene_strength
// unchanged.
func AppendSceneMemoryTx(tx *sql.Tx, sceneID, memoryID string) error {
	var memoryIDsJSON string
	if err := tx.QueryRowContext(context.Background(), `SELECT memory_ids FROM scenes WHERE id = ?`, sceneID).Scan(&memoryIDsJSON); err != nil {
		return err
	}
	var ids []string
	if err := json.Unmarshal([]byte(memoryIDsJSON), &ids); err != nil {
		return &models.CorruptionError{Entity: "scene.memory_ids", Detail: err.Error()}
	}
	ids = append(ids, memoryID)
	updated, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE scenes SET memory_ids = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(updated), sceneID)
	return err
}

// ScenePatch describes a partial update to a scene row; nil/empty fields
// are left unchanged.
type ScenePatch struct {
	EndTime      *time.Time
	Location     *string
	Summary      *string
	Topic        *string
	Participants []string
	Embedding    []float32
}

// UpdateSceneTx applies patch to the scene identified by id, used when a
// new view is attached to an already-open scene.
func UpdateSceneTx(db *sql.DB, id string, patch ScenePatch) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if patch.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, *patch.EndTime)
	}
	if patch.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *patch.Location)
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.Topic != nil {
		sets = append(sets, "topic = ?")
		args = append(args, *patch.Topic)
	}
	if patch.Participants != nil {
		b, err := json.Marshal(patch.Participants)
		if err != nil {
			return fmt.Errorf("marshal participants patch: %w", err)
		}
		sets = append(sets, "participants = ?")
		args = append(args, string(b))
	}
	if patch.Embedding != nil {
		sets = append(sets, "embedding = ?")
		args = append(args, encodeVector(patch.Embedding))
	}

	args = append(args, id)
	query := "UPDATE scenes SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), query, args...)
		return err
	})
}

// encodeVector packs a float32 vector into a compact binary blob for BLOB
// storage alongside the scene row (mirrors internal/vectorindex's own
// encoding so scene embeddings share the same on-disk representation).
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}
