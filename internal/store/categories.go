package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CategoryRow is a node in a user's hierarchical category graph.
type CategoryRow struct {
	ID        string
	User      string
	Name      string
	ParentID  string
	Summary   string
	Strength  float64
	UpdatedAt string
}

// UpsertCategory creates or reinforces a (user, name) category node.
func UpsertCategory(db *sql.DB, c *CategoryRow) (string, error) {
	if c.ID == "" {
		c.ID = NewID()
	}
	err := RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO categories (id, user, name, parent_id, summary, strength)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user, name) DO UPDATE SET
				parent_id = excluded.parent_id,
				summary = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE categories.summary END,
				strength = categories.strength + 0.1,
				updated_at = CURRENT_TIMESTAMP
		`, c.ID, c.User, c.Name, c.ParentID, c.Summary, c.Strength)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert category: %w", err)
	}
	return c.ID, nil
}

// GetCategoryByName looks up a category by its (user, name) key.
func GetCategoryByName(db *sql.DB, user, name string) (*CategoryRow, error) {
	var c *CategoryRow
	err := RetryWithBackoff(func() error {
		v := &CategoryRow{}
		err := db.QueryRowContext(context.Background(), `
			SELECT id, user, name, parent_id, summary, strength, updated_at FROM categories WHERE user = ? AND name = ?
		`, user, name).Scan(&v.ID, &v.User, &v.Name, &v.ParentID, &v.Summary, &v.Strength, &v.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			c = nil
			return nil
		}
		if err != nil {
			return err
		}
		c = v
		return nil
	})
	return c, err
}

// ListCategories returns every category node for user.
func ListCategories(db *sql.DB, user string) ([]*CategoryRow, error) {
	var out []*CategoryRow
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, user, name, parent_id, summary, strength, updated_at FROM categories WHERE user = ? ORDER BY strength DESC
		`, user)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			c := &CategoryRow{}
			if err := rows.Scan(&c.ID, &c.User, &c.Name, &c.ParentID, &c.Summary, &c.Strength, &c.UpdatedAt); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// DecayCategory reduces a category's strength, used by the sleep cycle's
// periodic category maintenance pass (spec.md §4.5).
func DecayCategory(db *sql.DB, id string, newStrength float64) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			UPDATE categories SET strength = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, newStrength, id)
		return err
	})
}

// MergeCategoriesTx folds srcID into dstID: reparents any children of src to
// dst and deletes the src row, used when two categories are judged
// duplicates during maintenance.
func MergeCategoriesTx(tx *sql.Tx, srcID, dstID string) error {
	if _, err := tx.ExecContext(context.Background(), `UPDATE categories SET parent_id = ? WHERE parent_id = ?`, dstID, srcID); err != nil {
		return err
	}
	_, err := tx.ExecContext(context.Background(), `DELETE FROM categories WHERE id = ?`, srcID)
	return err
}
