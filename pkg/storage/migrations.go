package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema migrations in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create identity and tenancy tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS "user" (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					email TEXT NOT NULL UNIQUE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					image TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS session (
					id TEXT PRIMARY KEY,
					expires_at TIMESTAMPTZ NOT NULL,
					token TEXT NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					ip_address TEXT,
					user_agent TEXT,
					user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
					active_organization_id TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_session_user_id ON session(user_id);
				CREATE INDEX IF NOT EXISTS idx_session_expires_at ON session(expires_at);

				CREATE TABLE IF NOT EXISTS organization (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT UNIQUE,
					logo TEXT,
					plan TEXT NOT NULL DEFAULT 'free',
					metadata TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS member (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
					role TEXT NOT NULL DEFAULT 'member',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_member_user_id ON member(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Constrain membership roles",
			// NOT VALID leaves legacy rows alone; readers still coerce them.
			SQL: `
				ALTER TABLE member
					ADD CONSTRAINT member_role_check
					CHECK (role IN ('owner', 'admin', 'member')) NOT VALID;
			`,
		},
		{
			Version:     3,
			Description: "Create api_key table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_key (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
					organization_id TEXT REFERENCES organization(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					prefix TEXT NOT NULL,
					key_hash TEXT NOT NULL UNIQUE,
					permissions TEXT[] NOT NULL DEFAULT '{}',
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_api_key_user_id ON api_key(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create clients and invoices tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS clients (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					email TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_clients_organization_id ON clients(organization_id);

				CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
					client_id TEXT REFERENCES clients(id) ON DELETE SET NULL,
					number TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'draft',
					total_cents BIGINT NOT NULL DEFAULT 0,
					currency TEXT NOT NULL DEFAULT 'USD',
					issued_at TIMESTAMPTZ,
					due_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, number)
				);
				CREATE INDEX IF NOT EXISTS idx_invoices_organization_id ON invoices(organization_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_event table",
			// No foreign keys: events outlive the rows they describe.
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_event (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					source TEXT NOT NULL,
					actor_user_id TEXT,
					organization_id TEXT,
					api_key_id TEXT,
					resource_type TEXT,
					resource_id TEXT,
					request_id TEXT,
					ip_address TEXT,
					message TEXT,
					metadata JSONB,
					changes JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_audit_event_organization_id ON audit_event(organization_id, occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_event_event_type ON audit_event(event_type);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{"version": m.Version, "description": m.Description})
		log.Info("Running migration")

		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}

		log.Info("Migration complete")
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
