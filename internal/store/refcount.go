package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// AddSubscriberTx registers a strong or weak reference on a memory and bumps
// the matching refcount column, used by the handoff bus and episodic store
// to keep referenced memories from being swept by decay/GC.
func AddSubscriberTx(tx *sql.Tx, sub *models.Subscriber) error {
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO memory_subscribers (memory_id, subscriber_id, ref_type, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id, subscriber_id, ref_type) DO UPDATE SET expires_at = excluded.expires_at
	`, sub.MemoryID, sub.SubscriberID, string(sub.RefType), sub.ExpiresAt)
	if err != nil {
		return err
	}
	column := "weak_count"
	if sub.RefType == models.RefStrong {
		column = "strong_count"
	}
	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO memory_refcounts (memory_id, `+column+`) VALUES (?, 1)
		ON CONFLICT(memory_id) DO UPDATE SET `+column+` = `+column+` + 1
	`, sub.MemoryID)
	return err
}

// RemoveSubscriberTx releases a previously held reference and decrements the
// matching refcount column, clamped at zero.
func RemoveSubscriberTx(tx *sql.Tx, memoryID, subscriberID string, refType models.RefType) error {
	res, err := tx.ExecContext(context.Background(), `
		DELETE FROM memory_subscribers WHERE memory_id = ? AND subscriber_id = ? AND ref_type = ?
	`, memoryID, subscriberID, string(refType))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return err
	}
	column := "weak_count"
	if refType == models.RefStrong {
		column = "strong_count"
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE memory_refcounts SET `+column+` = MAX(0, `+column+` - 1) WHERE memory_id = ?
	`, memoryID)
	return err
}

// GetRefCount reads the strong/weak reference counters for a memory,
// defaulting to zero counts when the memory has no recorded references.
func GetRefCount(db *sql.DB, memoryID string) (*models.RefCount, error) {
	rc := &models.RefCount{MemoryID: memoryID}
	err := RetryWithBackoff(func() error {
		err := db.QueryRowContext(context.Background(), `
			SELECT strong_count, weak_count FROM memory_refcounts WHERE memory_id = ?
		`, memoryID).Scan(&rc.StrongCount, &rc.WeakCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return rc, err
}

// PurgeExpiredSubscribers releases subscriber rows whose lease has lapsed
// and decrements the corresponding refcounts, returning the number removed.
// Run periodically by the sleep cycle (spec.md §4.12 stale-ref cleanup).
func PurgeExpiredSubscribers(db *sql.DB, now time.Time) (int, error) {
	var removed int
	err := Transact(db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(context.Background(), `
			SELECT memory_id, subscriber_id, ref_type FROM memory_subscribers WHERE expires_at IS NOT NULL AND expires_at < ?
		`, now)
		if err != nil {
			return err
		}
		type key struct {
			memoryID, subscriberID string
			refType                models.RefType
		}
		var expired []key
		for rows.Next() {
			var k key
			var refType string
			if err := rows.Scan(&k.memoryID, &k.subscriberID, &refType); err != nil {
				_ = rows.Close()
				return err
			}
			k.refType = models.RefType(refType)
			expired = append(expired, k)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_ = rows.Close()

		for _, k := range expired {
			if err := RemoveSubscriberTx(tx, k.memoryID, k.subscriberID, k.refType); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
