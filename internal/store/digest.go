package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engram-kernel/engram/internal/models"
)

// UpsertDailyDigest writes (or overwrites) the per-user nightly summary
// produced by the sleep cycle (spec.md §4.12).
func UpsertDailyDigest(db *sql.DB, d *models.DailyDigest) error {
	conflictsJSON, err := json.Marshal(nonNilStrings(d.TopConflicts))
	if err != nil {
		return fmt.Errorf("marshal top_conflicts: %w", err)
	}
	consolidationsJSON, err := json.Marshal(nonNilStrings(d.TopConsolidations))
	if err != nil {
		return fmt.Errorf("marshal top_consolidations: %w", err)
	}
	highlightsJSON, err := json.Marshal(nonNilStrings(d.SceneHighlights))
	if err != nil {
		return fmt.Errorf("marshal scene_highlights: %w", err)
	}
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO daily_digests (user, date, top_conflicts, top_consolidations, scene_highlights)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user, date) DO UPDATE SET
				top_conflicts = excluded.top_conflicts,
				top_consolidations = excluded.top_consolidations,
				scene_highlights = excluded.scene_highlights
		`, d.User, d.Date, string(conflictsJSON), string(consolidationsJSON), string(highlightsJSON))
		return err
	})
}

// GetDailyDigest reads a user's digest for a given YYYY-MM-DD date. Returns
// (nil, nil) if no digest has been built for that date yet.
func GetDailyDigest(db *sql.DB, user, date string) (*models.DailyDigest, error) {
	var d *models.DailyDigest
	err := RetryWithBackoff(func() error {
		var conflictsJSON, consolidationsJSON, highlightsJSON string
		v := &models.DailyDigest{}
		err := db.QueryRowContext(context.Background(), `
			SELECT user, date, top_conflicts, top_consolidations, scene_highlights, created_at
			FROM daily_digests WHERE user = ? AND date = ?
		`, user, date).Scan(&v.User, &v.Date, &conflictsJSON, &consolidationsJSON, &highlightsJSON, &v.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			d = nil
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(conflictsJSON), &v.TopConflicts); err != nil {
			return &models.CorruptionError{Entity: "daily_digest.top_conflicts", Detail: err.Error()}
		}
		if err := json.Unmarshal([]byte(consolidationsJSON), &v.TopConsolidations); err != nil {
			return &models.CorruptionError{Entity: "daily_digest.top_consolidations", Detail: err.Error()}
		}
		if err := json.Unmarshal([]byte(highlightsJSON), &v.SceneHighlights); err != nil {
			return &models.CorruptionError{Entity: "daily_digest.scene_highlights", Detail: err.Error()}
		}
		d = v
		return nil
	})
	return d, err
}
