package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/engram-kernel/engram/internal/models"
)

// GetAgentTrust reads the (user, agent) trust counters, defaulting to a
// fresh zero-history record (trust_score 0.5) when none exists yet.
func GetAgentTrust(db *sql.DB, user, agent string) (*models.AgentTrust, error) {
	t := &models.AgentTrust{User: user, Agent: agent, TrustScore: 0.5}
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT user, agent, total, approved, rejected, auto_stashed, trust_score
			FROM agent_trust WHERE user = ? AND agent = ?
		`, user, agent)
		err := row.Scan(&t.User, &t.Agent, &t.Total, &t.Approved, &t.Rejected, &t.AutoStashed, &t.TrustScore)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return t, err
}

// RecordCommitOutcomeTx updates the trust counters for (user, agent) after a
// proposal commit reaches a terminal status, and recomputes trust_score as
// the complement of the rejection rate, floored so a single rejection
// doesn't zero out an otherwise long track record.
func RecordCommitOutcomeTx(tx *sql.Tx, user, agent string, outcome models.CommitStatus) error {
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO agent_trust (user, agent, total, approved, rejected, auto_stashed, trust_score)
		VALUES (?, ?, 1, ?, ?, ?, 0.5)
		ON CONFLICT(user, agent) DO UPDATE SET
			total = agent_trust.total + 1,
			approved = agent_trust.approved + excluded.approved,
			rejected = agent_trust.rejected + excluded.rejected,
			auto_stashed = agent_trust.auto_stashed + excluded.auto_stashed
	`, user, agent, boolToInt(outcome == models.CommitApproved), boolToInt(outcome == models.CommitRejected), boolToInt(outcome == models.CommitAutoStashed))
	if err != nil {
		return fmt.Errorf("failed to record commit outcome: %w", err)
	}

	var total, rejected int
	if err := tx.QueryRowContext(context.Background(), `
		SELECT total, rejected FROM agent_trust WHERE user = ? AND agent = ?
	`, user, agent).Scan(&total, &rejected); err != nil {
		return fmt.Errorf("failed to read updated trust counters: %w", err)
	}

	score := 1.0
	if total > 0 {
		score = 1.0 - float64(rejected)/float64(total)
		if score < 0.05 {
			score = 0.05
		}
	}
	_, err = tx.ExecContext(context.Background(), `
		UPDATE agent_trust SET trust_score = ? WHERE user = ? AND agent = ?
	`, score, user, agent)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
