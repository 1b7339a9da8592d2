package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// NewSessionToken generates a random opaque bearer token. The caller stores
// the returned plaintext exactly once (returned to the agent) and persists
// only HashToken(token) via CreateSession.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken derives the stored lookup hash for a plaintext bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CreateSession persists a new capability-scoped session and returns its id.
func CreateSession(db *sql.DB, s *models.Session) (string, error) {
	if s.ID == "" {
		s.ID = NewID()
	}
	scopesJSON, err := json.Marshal(nonNilStrings(s.AllowedConfidentiality))
	if err != nil {
		return "", fmt.Errorf("marshal scopes: %w", err)
	}
	capsJSON, err := json.Marshal(nonNilStrings(s.Capabilities))
	if err != nil {
		return "", fmt.Errorf("marshal capabilities: %w", err)
	}
	nsJSON, err := json.Marshal(nonNilStrings(s.Namespaces))
	if err != nil {
		return "", fmt.Errorf("marshal namespaces: %w", err)
	}

	err = RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO sessions (id, token_hash, user, agent, allowed_scopes, capabilities, namespaces, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.TokenHash, s.User, s.Agent, string(scopesJSON), string(capsJSON), string(nsJSON), s.ExpiresAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return s.ID, nil
}

func scanSessionRow(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	var scopesJSON, capsJSON, nsJSON string
	var revokedAt sql.NullTime
	err := row.Scan(&s.ID, &s.TokenHash, &s.User, &s.Agent, &scopesJSON, &capsJSON, &nsJSON, &s.ExpiresAt, &revokedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	if err := json.Unmarshal([]byte(scopesJSON), &s.AllowedConfidentiality); err != nil {
		return nil, &models.CorruptionError{Entity: "session.allowed_scopes", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(capsJSON), &s.Capabilities); err != nil {
		return nil, &models.CorruptionError{Entity: "session.capabilities", Detail: err.Error()}
	}
	if err := json.Unmarshal([]byte(nsJSON), &s.Namespaces); err != nil {
		return nil, &models.CorruptionError{Entity: "session.namespaces", Detail: err.Error()}
	}
	return &s, nil
}

const sessionSelectColumns = `id, token_hash, user, agent, allowed_scopes, capabilities, namespaces, expires_at, revoked_at, created_at`

// GetSession retrieves a session by id. Returns (nil, nil) if absent.
func GetSession(db *sql.DB, id string) (*models.Session, error) {
	var s *models.Session
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+sessionSelectColumns+" FROM sessions WHERE id = ?", id)
		v, err := scanSessionRow(row)
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

// GetSessionByToken looks up a session by its plaintext bearer token.
func GetSessionByToken(db *sql.DB, token string) (*models.Session, error) {
	hash := HashToken(token)
	var s *models.Session
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), "SELECT "+sessionSelectColumns+" FROM sessions WHERE token_hash = ?", hash)
		v, err := scanSessionRow(row)
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

// RevokeSession marks a session unusable before its natural expiry.
func RevokeSession(db *sql.DB, id string) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL
		`, id)
		return err
	})
}

// PurgeExpiredSessions deletes sessions whose expiry has passed cutoff.
func PurgeExpiredSessions(db *sql.DB, cutoff time.Time) (int, error) {
	var n int64
	err := RetryWithBackoff(func() error {
		res, err := db.ExecContext(context.Background(), `DELETE FROM sessions WHERE expires_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
