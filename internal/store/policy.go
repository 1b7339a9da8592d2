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

// UpsertAgentPolicy clamps what (user, agent) may request in a new session.
func UpsertAgentPolicy(db *sql.DB, p *models.AgentPolicy) error {
	scopesJSON, err := json.Marshal(nonNilStrings(p.AllowedScopes))
	if err != nil {
		return fmt.Errorf("marshal allowed_scopes: %w", err)
	}
	capsJSON, err := json.Marshal(nonNilStrings(p.AllowedCapabilities))
	if err != nil {
		return fmt.Errorf("marshal allowed_capabilities: %w", err)
	}
	nsJSON, err := json.Marshal(nonNilStrings(p.AllowedNamespaces))
	if err != nil {
		return fmt.Errorf("marshal allowed_namespaces: %w", err)
	}
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO agent_policies (user, agent, allowed_scopes, allowed_capabilities, allowed_namespaces, trusted_direct, handoff_bootstrap)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user, agent) DO UPDATE SET
				allowed_scopes = excluded.allowed_scopes,
				allowed_capabilities = excluded.allowed_capabilities,
				allowed_namespaces = excluded.allowed_namespaces,
				trusted_direct = excluded.trusted_direct,
				handoff_bootstrap = excluded.handoff_bootstrap
		`, p.User, p.Agent, string(scopesJSON), string(capsJSON), string(nsJSON), p.TrustedDirect, p.HandoffBootstrap)
		return err
	})
}

// GetAgentPolicy reads a (user, agent) policy. Returns (nil, nil) if absent.
func GetAgentPolicy(db *sql.DB, user, agent string) (*models.AgentPolicy, error) {
	var p *models.AgentPolicy
	err := RetryWithBackoff(func() error {
		var scopesJSON, capsJSON, nsJSON string
		row := db.QueryRowContext(context.Background(), `
			SELECT user, agent, allowed_scopes, allowed_capabilities, allowed_namespaces, trusted_direct, handoff_bootstrap
			FROM agent_policies WHERE user = ? AND agent = ?
		`, user, agent)
		v := &models.AgentPolicy{}
		if err := row.Scan(&v.User, &v.Agent, &scopesJSON, &capsJSON, &nsJSON, &v.TrustedDirect, &v.HandoffBootstrap); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				p = nil
				return nil
			}
			return err
		}
		if err := json.Unmarshal([]byte(scopesJSON), &v.AllowedScopes); err != nil {
			return &models.CorruptionError{Entity: "agent_policy.allowed_scopes", Detail: err.Error()}
		}
		if err := json.Unmarshal([]byte(capsJSON), &v.AllowedCapabilities); err != nil {
			return &models.CorruptionError{Entity: "agent_policy.allowed_capabilities", Detail: err.Error()}
		}
		if err := json.Unmarshal([]byte(nsJSON), &v.AllowedNamespaces); err != nil {
			return &models.CorruptionError{Entity: "agent_policy.allowed_namespaces", Detail: err.Error()}
		}
		p = v
		return nil
	})
	return p, err
}

// CreateNamespace registers a new tenancy boundary for user.
func CreateNamespace(db *sql.DB, ns *models.Namespace) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO namespaces (user, name, description) VALUES (?, ?, ?)
			ON CONFLICT(user, name) DO UPDATE SET description = excluded.description
		`, ns.User, ns.Name, ns.Description)
		return err
	})
}

// ListNamespaces returns every namespace registered for user.
func ListNamespaces(db *sql.DB, user string) ([]*models.Namespace, error) {
	var out []*models.Namespace
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT user, name, description, created_at FROM namespaces WHERE user = ? ORDER BY name ASC
		`, user)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			ns := &models.Namespace{}
			if err := rows.Scan(&ns.User, &ns.Name, &ns.Description, &ns.CreatedAt); err != nil {
				return err
			}
			out = append(out, ns)
		}
		return rows.Err()
	})
	return out, err
}

// GrantNamespacePermission grants (user, agent) a capability within namespace.
func GrantNamespacePermission(db *sql.DB, p *models.NamespacePermission) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			INSERT INTO namespace_permissions (namespace, user, agent, capability, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(namespace, user, agent, capability) DO UPDATE SET expires_at = excluded.expires_at
		`, p.Namespace, p.User, p.Agent, p.Capability, p.ExpiresAt)
		return err
	})
}

// RevokeNamespacePermission removes a previously granted capability.
func RevokeNamespacePermission(db *sql.DB, namespace, user, agent, capability string) error {
	return RetryWithBackoff(func() error {
		_, err := db.ExecContext(context.Background(), `
			DELETE FROM namespace_permissions WHERE namespace = ? AND user = ? AND agent = ? AND capability = ?
		`, namespace, user, agent, capability)
		return err
	})
}

// ListNamespacePermissions lists an agent's live grants within namespace,
// excluding expired ones as of now.
func ListNamespacePermissions(db *sql.DB, namespace, user, agent string, now time.Time) ([]*models.NamespacePermission, error) {
	var out []*models.NamespacePermission
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT namespace, user, agent, capability, expires_at FROM namespace_permissions
			WHERE namespace = ? AND user = ? AND agent = ? AND (expires_at IS NULL OR expires_at > ?)
		`, namespace, user, agent, now)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			p := &models.NamespacePermission{}
			var expiresAt sql.NullTime
			if err := rows.Scan(&p.Namespace, &p.User, &p.Agent, &p.Capability, &expiresAt); err != nil {
				return err
			}
			if expiresAt.Valid {
				p.ExpiresAt = &expiresAt.Time
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}
